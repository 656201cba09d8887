package api

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/command"
	"github.com/solatis/aadnode/internal/types"
)

func (s *Service) setMQTT() command.Method {
	str := func(name string) command.Field {
		return command.Field{Name: name, String: func(c *command.Call, v string) {
			if err := s.mqtt.Set(name, v); err != nil {
				failOnce(c, msgValueSize)
			}
		}}
	}
	return command.Method{
		Name: "setMQTT",
		Fields: []command.Field{
			str("address"),
			{Name: "ssl", Bool: func(c *command.Call, v bool) { s.mqtt.SetSSL(v) }},
			str("prefix"),
			str("data"),
			str("user"),
			str("pass"),
		},
		Response: reply,
	}
}

func (s *Service) getMQTT() command.Method {
	return command.Method{
		Name: "getMQTT",
		Response: func(*command.Call) (command.ErrorCode, json.RawMessage) {
			return command.OK, s.mqtt.JSON()
		},
	}
}

func (s *Service) saveMQTT() command.Method {
	return command.Method{
		Name: "saveMQTT",
		Response: func(*command.Call) (command.ErrorCode, json.RawMessage) {
			if err := s.mqtt.Save(); err != nil {
				log.Error().Err(err).Msg("Failed to save MQTT configuration")
				return command.Fail, command.Quote(msgSave)
			}
			return command.OK, nil
		},
	}
}

// certBlock is the scratch state of the certificate methods.
type certBlock struct {
	data   []byte
	offset int64
	length int64
}

func block(c *command.Call) *certBlock {
	return c.Scratch.(*certBlock)
}

func initBlock(c *command.Call) {
	c.Scratch = &certBlock{offset: -1, length: -1}
}

func (s *Service) setMQTTCert() command.Method {
	return command.Method{
		Name: "setMQTTCert",
		Init: initBlock,
		Fields: []command.Field{
			{Name: "cert", String: func(c *command.Call, v string) {
				if len(v) > types.MaxCertBlock {
					failOnce(c, msgCertBlockSize)
					return
				}
				block(c).data = []byte(v)
			}},
			{Name: "offset", Int: func(c *command.Call, v int64) { block(c).offset = v }},
		},
		Response: func(c *command.Call) (command.ErrorCode, json.RawMessage) {
			b := block(c)
			if !c.Failed() && b.offset < 0 {
				c.Fail(msgCertNoOffset)
			}
			if !c.Failed() {
				if err := s.mqtt.SetCertBlock(b.data, int(b.offset)); err != nil {
					log.Warn().Err(err).Int64("offset", b.offset).Msg("Certificate block rejected")
					c.Fail(msgCertSet)
				}
			}
			return reply(c)
		},
	}
}

type certReply struct {
	Offset  int    `json:"offset"`
	Len     int    `json:"len"`
	CertLen int    `json:"cert_len"`
	Cert    string `json:"cert"`
}

func (s *Service) getMQTTCert() command.Method {
	return command.Method{
		Name: "getMQTTCert",
		Init: initBlock,
		Fields: []command.Field{
			{Name: "len", Int: func(c *command.Call, v int64) { block(c).length = v }},
			{Name: "offset", Int: func(c *command.Call, v int64) { block(c).offset = v }},
		},
		Response: func(c *command.Call) (command.ErrorCode, json.RawMessage) {
			b := block(c)
			if b.offset < 0 {
				return command.Fail, command.Quote(msgCertGetOffset)
			}
			if b.length < 0 || b.length > types.MaxCertBlock {
				b.length = types.MaxCertBlock
			}
			data, total, err := s.mqtt.CertBlock(int(b.offset), int(b.length))
			if err != nil {
				return command.Fail, command.Quote(msgCertOffset)
			}
			out, _ := json.Marshal(certReply{Offset: int(b.offset), Len: len(data), CertLen: total, Cert: string(data)})
			return command.OK, out
		},
	}
}
