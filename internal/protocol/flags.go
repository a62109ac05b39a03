package protocol

// flags packs/unpacks the single flags octet shared by CONNECT, WILLTOPIC(UPD),
// PUBLISH, SUBSCRIBE, and UNSUBSCRIBE: Dup(7) QoS(6-5) Retain(4) Will(3)
// CleanSession(2) TopicIdType(1-0).
type flags struct {
	Dup          bool
	QoS          QoS
	Retain       bool
	Will         bool
	CleanSession bool
	TopicIdType  TopicIdType
}

func (f flags) encode() byte {
	var b byte
	if f.Dup {
		b |= 0x80
	}
	b |= qosBits(f.QoS) << 5
	if f.Retain {
		b |= 0x10
	}
	if f.Will {
		b |= 0x08
	}
	if f.CleanSession {
		b |= 0x04
	}
	b |= byte(f.TopicIdType) & 0x03
	return b
}

func decodeFlags(b byte) flags {
	return flags{
		Dup:          b&0x80 != 0,
		QoS:          qosFromBits((b >> 5) & 0x03),
		Retain:       b&0x10 != 0,
		Will:         b&0x08 != 0,
		CleanSession: b&0x04 != 0,
		TopicIdType:  TopicIdType(b & 0x03),
	}
}

func qosBits(q QoS) byte {
	switch q {
	case QoSZero:
		return 0x00
	case QoSOne:
		return 0x01
	case QoSTwo:
		return 0x02
	case QoSMinusOne:
		return 0x03
	default:
		return 0x00
	}
}

func qosFromBits(b byte) QoS {
	switch b {
	case 0x00:
		return QoSZero
	case 0x01:
		return QoSOne
	case 0x02:
		return QoSTwo
	case 0x03:
		return QoSMinusOne
	default:
		return QoSZero
	}
}
