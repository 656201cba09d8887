package mqttapp

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	qos        = 0
	tokenWait  = 5 * time.Second
	disconnect = 250 // ms
)

// Session is one broker connection.
type Session interface {
	Subscribe(topic string) error
	Publish(topic string, payload []byte) error
	Close()
}

// DialOptions configures a new session. The callbacks run on client
// goroutines and must only post events.
type DialOptions struct {
	Settings  Settings
	Cert      []byte
	ClientID  string
	OnConnect func()
	OnLost    func(error)
	OnMessage func(topic string, payload []byte)
}

// Dialer starts a connection attempt and returns without waiting for it.
type Dialer func(opts DialOptions) (Session, error)

type pahoSession struct {
	client mqtt.Client
}

// PahoDialer connects with the Eclipse Paho client. Reconnection is left to
// the module's timers.
func PahoDialer(o DialOptions) (Session, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Settings.Address)
	opts.SetClientID(o.ClientID)
	if o.Settings.User != "" {
		opts.SetUsername(o.Settings.User)
	}
	if o.Settings.Password != "" {
		opts.SetPassword(o.Settings.Password)
	}
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	if o.Settings.SSL || len(o.Cert) > 0 {
		cfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if len(o.Cert) > 0 {
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(o.Cert) {
				return nil, fmt.Errorf("invalid broker certificate")
			}
			cfg.RootCAs = pool
		}
		opts.SetTLSConfig(cfg)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		if o.OnConnect != nil {
			o.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if o.OnLost != nil {
			o.OnLost(err)
		}
	})
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		if o.OnMessage != nil {
			o.OnMessage(msg.Topic(), msg.Payload())
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil && o.OnLost != nil {
			o.OnLost(err)
		}
	}()
	return &pahoSession{client: client}, nil
}

func wait(t mqtt.Token, op string) error {
	if !t.WaitTimeout(tokenWait) {
		return fmt.Errorf("%s: timed out", op)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *pahoSession) Subscribe(topic string) error {
	return wait(s.client.Subscribe(topic, qos, nil), "subscribe "+topic)
}

func (s *pahoSession) Publish(topic string, payload []byte) error {
	return wait(s.client.Publish(topic, qos, false, payload), "publish "+topic)
}

func (s *pahoSession) Close() {
	s.client.Disconnect(disconnect)
}
