package command

import "fmt"

// ErrorCode is the result code carried in every command response.
type ErrorCode int

const (
	OK ErrorCode = iota
	Fail
	ErrorParsing
	OKNoAck
	UnknownMQTTTopicType
)

var codeNames = map[ErrorCode]string{
	OK:                   "OK",
	Fail:                 "FAIL",
	ErrorParsing:         "ERROR_PARSING",
	OKNoAck:              "OK_NO_ACK",
	UnknownMQTTTopicType: "UNKNOWN_MQTT_TOPIC_TYPE",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ERROR_CODE(%d)", int(c))
}
