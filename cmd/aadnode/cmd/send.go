package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/solatis/aadnode/internal/tcpserver"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one framed command to a device and print the reply",
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().String("addr", "127.0.0.1:1234", "device command server address")
	sendCmd.Flags().String("method", "", "method name")
	sendCmd.Flags().String("data", "", "method parameters as a JSON object")
	sendCmd.Flags().Uint32("i", 0, "iterator echoed in the reply")
	sendCmd.Flags().Duration("timeout", 5*time.Second, "dial and reply timeout")
	_ = sendCmd.MarkFlagRequired("method")
}

type request struct {
	Method string          `json:"method"`
	I      uint32          `json:"i"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func runSend(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	method, _ := cmd.Flags().GetString("method")
	data, _ := cmd.Flags().GetString("data")
	iter, _ := cmd.Flags().GetUint32("i")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	req := request{Method: method, I: iter}
	if data != "" {
		if !json.Valid([]byte(data)) {
			return fmt.Errorf("--data is not valid JSON")
		}
		req.Data = json.RawMessage(data)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	frame, err := tcpserver.EncodeFrame(payload)
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}

	var dec tcpserver.Decoder
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if reply, ok := dec.Next(); ok {
				fmt.Fprintln(cmd.OutOrStdout(), string(reply))
				return nil
			}
		}
		if err != nil {
			return fmt.Errorf("no reply from %s: %w", addr, err)
		}
	}
}
