package api

import (
	"encoding/json"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/command"
)

func (s *Service) setOTA() command.Method {
	str := func(name, msg string, set func(string) error) command.Field {
		return command.Field{Name: name, String: func(c *command.Call, v string) {
			if err := set(v); err != nil {
				failOnce(c, msg)
			}
		}}
	}
	return command.Method{
		Name: "setOTA",
		Fields: []command.Field{
			str("address", msgAddressSize, s.ota.SetAddress),
			str("tenant", msgTenantSize, s.ota.SetTenant),
			{Name: "tls", Bool: func(c *command.Call, v bool) { s.ota.SetTLS(v) }},
			{Name: "poll_time", Int: func(c *command.Call, v int64) {
				if v <= 0 || v > math.MaxUint32 {
					failOnce(c, msgPollTime)
					return
				}
				if err := s.ota.SetPollTime(uint32(v)); err != nil {
					failOnce(c, msgPollTime)
				}
			}},
			str("token", msgTokenSize, s.ota.SetToken),
		},
		Response: reply,
	}
}

func (s *Service) getOTA() command.Method {
	return command.Method{
		Name: "getOTA",
		Response: func(*command.Call) (command.ErrorCode, json.RawMessage) {
			return command.OK, s.ota.JSON()
		},
	}
}

func (s *Service) saveOTA() command.Method {
	return command.Method{
		Name: "saveOTA",
		Response: func(*command.Call) (command.ErrorCode, json.RawMessage) {
			if err := s.ota.Save(); err != nil {
				log.Error().Err(err).Msg("Failed to save OTA configuration")
				return command.Fail, command.Quote(msgSave)
			}
			return command.OK, nil
		},
	}
}
