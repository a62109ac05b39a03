package protocol

import "fmt"

// frame prepends the MQTT-SN length header to a message body. Frames up to
// 255 bytes total use the 1-byte form; longer frames use the 0x01 escape
// followed by a 2-byte big-endian length, per MQTT-SN v1.2 section 5.2.
func frame(mt MsgType, body []byte) []byte {
	total := 2 + len(body)
	if total <= 0xFF {
		out := make([]byte, 0, total)
		out = append(out, byte(total), byte(mt))
		out = append(out, body...)
		return out
	}
	total += 2
	out := make([]byte, 0, total)
	out = append(out, 0x01)
	out = appendU16(out, uint16(total))
	out = append(out, byte(mt))
	out = append(out, body...)
	return out
}

// Decode parses one complete MQTT-SN frame into its typed Message. It
// returns an error for truncated or structurally invalid frames; the
// gateway router treats a decode error as a protocol violation (dropped
// silently), per the error handling design.
func Decode(buf []byte) (Message, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("protocol: frame too short (%d bytes)", len(buf))
	}

	var length int
	var mt MsgType
	var body []byte

	if buf[0] == 0x01 {
		if len(buf) < 4 {
			return nil, fmt.Errorf("protocol: truncated extended-length header")
		}
		length = int(readU16(buf[1:3]))
		mt = MsgType(buf[3])
		body = buf[4:]
	} else {
		length = int(buf[0])
		mt = MsgType(buf[1])
		body = buf[2:]
	}
	if length != len(buf) {
		return nil, fmt.Errorf("protocol: declared length %d does not match frame size %d", length, len(buf))
	}

	switch mt {
	case ADVERTISE:
		if len(body) < 3 {
			return nil, errShort(mt)
		}
		return &Advertise{GwId: body[0], Duration: readU16(body[1:3])}, nil
	case SEARCHGW:
		if len(body) < 1 {
			return nil, errShort(mt)
		}
		return &SearchGw{Radius: body[0]}, nil
	case GWINFO:
		if len(body) < 1 {
			return nil, errShort(mt)
		}
		return &GwInfo{GwId: body[0], GwAdd: append([]byte(nil), body[1:]...)}, nil
	case CONNECT:
		if len(body) < 4 {
			return nil, errShort(mt)
		}
		f := decodeFlags(body[0])
		return &Connect{
			Will:         f.Will,
			CleanSession: f.CleanSession,
			ProtocolId:   body[1],
			Duration:     readU16(body[2:4]),
			ClientId:     string(body[4:]),
		}, nil
	case CONNACK:
		if len(body) < 1 {
			return nil, errShort(mt)
		}
		return &ConnAck{ReturnCode: ReturnCode(body[0])}, nil
	case WILLTOPICREQ:
		return &WillTopicReq{}, nil
	case WILLTOPIC:
		if len(body) < 1 {
			return &WillTopic{}, nil
		}
		f := decodeFlags(body[0])
		return &WillTopic{QoS: f.QoS, Retain: f.Retain, Topic: string(body[1:])}, nil
	case WILLMSGREQ:
		return &WillMsgReq{}, nil
	case WILLMSG:
		return &WillMsg{Data: append([]byte(nil), body...)}, nil
	case REGISTER:
		if len(body) < 4 {
			return nil, errShort(mt)
		}
		return &Register{TopicId: readU16(body[0:2]), MsgId: readU16(body[2:4]), TopicName: string(body[4:])}, nil
	case REGACK:
		if len(body) < 5 {
			return nil, errShort(mt)
		}
		return &RegAck{TopicId: readU16(body[0:2]), MsgId: readU16(body[2:4]), ReturnCode: ReturnCode(body[4])}, nil
	case PUBLISH:
		if len(body) < 5 {
			return nil, errShort(mt)
		}
		f := decodeFlags(body[0])
		return &Publish{
			Dup: f.Dup, QoS: f.QoS, Retain: f.Retain, TopicIdType: f.TopicIdType,
			TopicId: readU16(body[1:3]), MsgId: readU16(body[3:5]), Data: append([]byte(nil), body[5:]...),
		}, nil
	case PUBACK:
		if len(body) < 5 {
			return nil, errShort(mt)
		}
		return &PubAck{TopicId: readU16(body[0:2]), MsgId: readU16(body[2:4]), ReturnCode: ReturnCode(body[4])}, nil
	case PUBREC:
		if len(body) < 2 {
			return nil, errShort(mt)
		}
		return &PubRec{MsgId: readU16(body[0:2])}, nil
	case PUBREL:
		if len(body) < 2 {
			return nil, errShort(mt)
		}
		return &PubRel{MsgId: readU16(body[0:2])}, nil
	case PUBCOMP:
		if len(body) < 2 {
			return nil, errShort(mt)
		}
		return &PubComp{MsgId: readU16(body[0:2])}, nil
	case SUBSCRIBE:
		if len(body) < 3 {
			return nil, errShort(mt)
		}
		f := decodeFlags(body[0])
		msgId := readU16(body[1:3])
		rest := body[3:]
		s := &Subscribe{Dup: f.Dup, QoS: f.QoS, TopicIdType: f.TopicIdType, MsgId: msgId}
		if f.TopicIdType == TopicNormal {
			s.TopicName = string(rest)
		} else if len(rest) >= 2 {
			s.TopicId = readU16(rest[0:2])
		}
		return s, nil
	case SUBACK:
		if len(body) < 6 {
			return nil, errShort(mt)
		}
		f := decodeFlags(body[0])
		return &SubAck{QoS: f.QoS, TopicId: readU16(body[1:3]), MsgId: readU16(body[3:5]), ReturnCode: ReturnCode(body[5])}, nil
	case UNSUBSCRIBE:
		if len(body) < 3 {
			return nil, errShort(mt)
		}
		f := decodeFlags(body[0])
		msgId := readU16(body[1:3])
		rest := body[3:]
		u := &Unsubscribe{TopicIdType: f.TopicIdType, MsgId: msgId}
		if f.TopicIdType == TopicNormal {
			u.TopicName = string(rest)
		} else if len(rest) >= 2 {
			u.TopicId = readU16(rest[0:2])
		}
		return u, nil
	case UNSUBACK:
		if len(body) < 2 {
			return nil, errShort(mt)
		}
		return &UnsubAck{MsgId: readU16(body[0:2])}, nil
	case PINGREQ:
		return &PingReq{ClientId: string(body)}, nil
	case PINGRESP:
		return &PingResp{}, nil
	case DISCONNECT:
		if len(body) == 0 {
			return &Disconnect{}, nil
		}
		if len(body) < 2 {
			return nil, errShort(mt)
		}
		return &Disconnect{Duration: readU16(body[0:2]), HasDuration: true}, nil
	case WILLTOPICUPD:
		if len(body) < 1 {
			return &WillTopicUpd{}, nil
		}
		f := decodeFlags(body[0])
		return &WillTopicUpd{QoS: f.QoS, Retain: f.Retain, Topic: string(body[1:])}, nil
	case WILLTOPICRESP:
		if len(body) < 1 {
			return nil, errShort(mt)
		}
		return &WillTopicResp{ReturnCode: ReturnCode(body[0])}, nil
	case WILLMSGUPD:
		return &WillMsgUpd{Data: append([]byte(nil), body...)}, nil
	case WILLMSGRESP:
		if len(body) < 1 {
			return nil, errShort(mt)
		}
		return &WillMsgResp{ReturnCode: ReturnCode(body[0])}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown message type 0x%02X", byte(mt))
	}
}

func errShort(mt MsgType) error {
	return fmt.Errorf("protocol: %s body too short", mt)
}
