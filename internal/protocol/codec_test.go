package protocol

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Message{
		&SearchGw{Radius: 1},
		&GwInfo{GwId: 7},
		&Connect{Will: true, CleanSession: true, Duration: 60, ClientId: "s1"},
		&ConnAck{ReturnCode: Accepted},
		&WillTopicReq{},
		&WillTopic{QoS: QoSOne, Retain: true, Topic: "a/will"},
		&WillMsgReq{},
		&WillMsg{Data: []byte("bye")},
		&Register{TopicId: 5, MsgId: 9, TopicName: "room/temp"},
		&RegAck{TopicId: 5, MsgId: 9, ReturnCode: Accepted},
		&Publish{QoS: QoSTwo, TopicIdType: TopicNormal, TopicId: 5, MsgId: 7, Data: []byte("X")},
		&PubAck{TopicId: 5, MsgId: 7, ReturnCode: Accepted},
		&PubRec{MsgId: 7},
		&PubRel{MsgId: 7},
		&PubComp{MsgId: 7},
		&Subscribe{QoS: QoSZero, TopicIdType: TopicNormal, MsgId: 3, TopicName: "room/temp"},
		&SubAck{QoS: QoSZero, TopicId: 5, MsgId: 3, ReturnCode: Accepted},
		&Unsubscribe{TopicIdType: TopicNormal, MsgId: 4, TopicName: "room/temp"},
		&UnsubAck{MsgId: 4},
		&PingReq{ClientId: "s1"},
		&PingResp{},
		&Disconnect{},
		&Disconnect{Duration: 300, HasDuration: true},
		&WillTopicUpd{QoS: QoSOne, Topic: "a/will"},
		&WillTopicResp{ReturnCode: Accepted},
		&WillMsgUpd{Data: []byte("bye2")},
		&WillMsgResp{ReturnCode: Accepted},
		&Advertise{GwId: 1, Duration: 30},
	}

	for _, want := range cases {
		buf := want.Encode()
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode %T: %v", want, err)
		}
		if got.Type() != want.Type() {
			t.Fatalf("type mismatch: want %s got %s", want.Type(), got.Type())
		}
		if !bytes.Equal(got.Encode(), buf) {
			t.Fatalf("%T: re-encode mismatch: % x vs % x", want, got.Encode(), buf)
		}
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{0x01}); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
	if _, err := Decode([]byte{5, byte(PUBLISH), 0, 0}); err == nil {
		t.Fatalf("expected error for PUBLISH frame shorter than its declared length")
	}
}

func TestMinQoS(t *testing.T) {
	if MinQoS(QoSTwo, QoSOne) != QoSOne {
		t.Fatalf("expected QoSOne")
	}
	if MinQoS(QoSMinusOne, QoSTwo) != QoSMinusOne {
		t.Fatalf("expected QoSMinusOne to be the minimum")
	}
}
