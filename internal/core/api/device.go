package api

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/command"
)

type deviceConfig struct {
	SW      string `json:"sw"`
	Project string `json:"project"`
	SN      string `json:"sn"`
}

func (s *Service) getDeviceConfig() command.Method {
	return command.Method{
		Name: "getDeviceConfig",
		Response: func(*command.Call) (command.ErrorCode, json.RawMessage) {
			out, _ := json.Marshal(deviceConfig{
				SW:      s.device.Version,
				Project: s.device.Project,
				SN:      fmt.Sprintf("%06d", s.device.Serial),
			})
			return command.OK, out
		},
	}
}

func (s *Service) setTemperatureSensor() command.Method {
	return command.Method{
		Name: "setTemperatureSensor",
		Fields: []command.Field{
			{Name: "sensor", Int: func(c *command.Call, v int64) {
				if s.sensors == nil {
					log.Info().Int64("sensor", v).Msg("Temperature bus disabled, sensor selection ignored")
					return
				}
				if err := s.sensors.SelectSensor(int(v)); err != nil {
					log.Warn().Err(err).Int64("sensor", v).Msg("Sensor selection rejected")
					failOnce(c, msgSensor)
				}
			}},
		},
		Response: func(c *command.Call) (command.ErrorCode, json.RawMessage) {
			if c.Failed() {
				return command.Fail, command.Quote(c.Message)
			}
			return command.OKNoAck, command.Quote(command.OKNoAck.String())
		},
	}
}
