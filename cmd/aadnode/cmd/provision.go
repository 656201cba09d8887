package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/solatis/aadnode/internal/core/auth"
	"github.com/solatis/aadnode/internal/core/nvs"
	"github.com/solatis/aadnode/internal/mqttapp"
	"github.com/solatis/aadnode/internal/ota"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Write device identity and settings into the store",
	Long: `Provision reads a YAML file and writes the serial number together with the
OTA, MQTT and WiFi settings into the device store. With --register the device
is also created as a target on the deployment server management API.`,
	RunE: runProvision,
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().String("file", "", "provisioning YAML file")
	provisionCmd.Flags().Bool("register", false, "create the target on the deployment server")
	_ = provisionCmd.MarkFlagRequired("file")
}

// provisionFile is the layout of the provisioning YAML.
type provisionFile struct {
	SN   uint32 `yaml:"sn"`
	OTA  *struct {
		Address  *string `yaml:"address"`
		Tenant   *string `yaml:"tenant"`
		TLS      *bool   `yaml:"tls"`
		PollTime *uint32 `yaml:"poll_time"`
		Token    *string `yaml:"token"`
	} `yaml:"ota"`
	MQTT *struct {
		Address *string `yaml:"address"`
		SSL     *bool   `yaml:"ssl"`
		Prefix  *string `yaml:"prefix"`
		Data    *string `yaml:"data"`
		User    *string `yaml:"user"`
		Pass    *string `yaml:"pass"`
	} `yaml:"mqtt"`
	WiFi *struct {
		SSID     string `yaml:"ssid"`
		Password string `yaml:"password"`
	} `yaml:"wifi"`
	Management struct {
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"management"`
}

func loadProvisionFile(path string) (*provisionFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f provisionFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if f.SN == 0 || f.SN > 999999 {
		return nil, fmt.Errorf("sn must be in 1..999999, got %d", f.SN)
	}
	return &f, nil
}

func runProvision(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	register, _ := cmd.Flags().GetBool("register")

	f, err := loadProvisionFile(path)
	if err != nil {
		return err
	}

	database, _, store, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.SetU32(nvs.NamespaceDevice, nvs.KeySerialNumber, f.SN); err != nil {
		return fmt.Errorf("failed to store serial number: %w", err)
	}

	otaCfg := ota.NewConfig(store)
	if err := otaCfg.Load(); err != nil {
		return fmt.Errorf("failed to load OTA settings: %w", err)
	}
	if err := applyOTA(otaCfg, f); err != nil {
		return err
	}

	if register {
		token := otaCfg.Settings().Token
		if f.OTA == nil || f.OTA.Token == nil {
			if token, err = auth.GenerateToken(); err != nil {
				return err
			}
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		token, err = registerTarget(ctx, otaCfg.Settings(), f.SN, token,
			auth.Basic(f.Management.User, f.Management.Password))
		if err != nil {
			return err
		}
		if err := otaCfg.SetToken(token); err != nil {
			return err
		}
	}
	if err := otaCfg.Save(); err != nil {
		return fmt.Errorf("failed to save OTA settings: %w", err)
	}

	mqttCfg := mqttapp.NewConfig(store)
	if err := mqttCfg.Load(); err != nil {
		return fmt.Errorf("failed to load MQTT settings: %w", err)
	}
	if err := applyMQTT(mqttCfg, f); err != nil {
		return err
	}
	if err := mqttCfg.Save(); err != nil {
		return fmt.Errorf("failed to save MQTT settings: %w", err)
	}

	if f.WiFi != nil {
		if err := store.SetString(nvs.NamespaceWiFi, "ssid", f.WiFi.SSID); err != nil {
			return fmt.Errorf("failed to store WiFi ssid: %w", err)
		}
		if err := store.SetString(nvs.NamespaceWiFi, "password", f.WiFi.Password); err != nil {
			return fmt.Errorf("failed to store WiFi password: %w", err)
		}
	}

	log.Info().Uint32("serial", f.SN).Bool("registered", register).Msg("Device provisioned")
	fmt.Fprintf(cmd.OutOrStdout(), "Provisioned device %06d\n", f.SN)
	return nil
}

func applyOTA(cfg *ota.Config, f *provisionFile) error {
	if f.OTA == nil {
		return nil
	}
	o := f.OTA
	if o.Address != nil {
		if err := cfg.SetAddress(*o.Address); err != nil {
			return fmt.Errorf("ota.address: %w", err)
		}
	}
	if o.Tenant != nil {
		if err := cfg.SetTenant(*o.Tenant); err != nil {
			return fmt.Errorf("ota.tenant: %w", err)
		}
	}
	if o.Token != nil {
		if err := cfg.SetToken(*o.Token); err != nil {
			return fmt.Errorf("ota.token: %w", err)
		}
	}
	if o.TLS != nil {
		cfg.SetTLS(*o.TLS)
	}
	if o.PollTime != nil {
		if err := cfg.SetPollTime(*o.PollTime); err != nil {
			return fmt.Errorf("ota.poll_time: %w", err)
		}
	}
	return nil
}

func applyMQTT(cfg *mqttapp.Config, f *provisionFile) error {
	if f.MQTT == nil {
		return nil
	}
	m := f.MQTT
	for _, kv := range []struct {
		key string
		v   *string
	}{
		{"address", m.Address},
		{"prefix", m.Prefix},
		{"data", m.Data},
		{"user", m.User},
		{"pass", m.Pass},
	} {
		if kv.v == nil {
			continue
		}
		if err := cfg.Set(kv.key, *kv.v); err != nil {
			return fmt.Errorf("mqtt.%s: %w", kv.key, err)
		}
	}
	if m.SSL != nil {
		cfg.SetSSL(*m.SSL)
	}
	return nil
}

type target struct {
	ControllerID  string `json:"controllerId"`
	Name          string `json:"name"`
	SecurityToken string `json:"securityToken,omitempty"`
}

// registerTarget creates the device on the management API and returns the
// security token the server stored.
func registerTarget(ctx context.Context, s ota.Settings, serial uint32, token string, creds auth.Credentials) (string, error) {
	id := fmt.Sprintf("%06d", serial)
	body, err := json.Marshal([]target{{ControllerID: id, Name: id, SecurityToken: token}})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s://%s/rest/v1/targets", s.Scheme(), s.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Transport: &auth.Transport{Source: func() auth.Credentials { return creds }}}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to register target: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read registration reply: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("target registration failed: %s: %s", resp.Status, bytes.TrimSpace(raw))
	}

	var created []target
	if err := json.Unmarshal(raw, &created); err != nil || len(created) == 0 {
		return token, nil
	}
	if created[0].SecurityToken != "" {
		token = created[0].SecurityToken
	}
	log.Info().Str("controller_id", id).Msg("Target registered")
	return token, nil
}
