// devicectl signs device requests and plays the part of a device against a
// running kioskd, for firmware development and smoke tests.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"kiosk-device-backend/internal/devicetrust"
)

// secretEnv keeps the secret out of shell history when set.
const secretEnv = "DEVICE_SECRET"

func main() {
	if err := run(os.Args[1:], os.Stdout, http.DefaultClient); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, client *http.Client) error {
	if len(args) == 0 {
		printUsage(stdout)
		return errors.New("missing command")
	}
	switch args[0] {
	case "sign":
		return runSign(args[1:], stdout, time.Now)
	case "heartbeat":
		return runHeartbeat(args[1:], stdout, client, time.Now)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: devicectl <command> [flags]

Commands:
  sign       print the signature headers for a request
  heartbeat  send a signed heartbeat to a server

The device secret is read from --secret or $`+secretEnv+`.
`)
}

type credentials struct {
	deviceID string
	secret   string
}

func (c *credentials) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.deviceID, "device-id", "", "device identifier")
	fs.StringVar(&c.secret, "secret", "", "device secret (default $"+secretEnv+")")
}

func (c *credentials) check() error {
	if c.secret == "" {
		c.secret = os.Getenv(secretEnv)
	}
	if c.deviceID == "" || c.secret == "" {
		return errors.New("--device-id and a secret are required")
	}
	return nil
}

func signatureHeaders(creds credentials, now time.Time, method, path string, body []byte) http.Header {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	h := http.Header{}
	h.Set(devicetrust.HeaderDeviceID, creds.deviceID)
	h.Set(devicetrust.HeaderTimestamp, ts)
	h.Set(devicetrust.HeaderSignature, devicetrust.SignRequest(creds.secret, creds.deviceID, ts, method, path, body))
	return h
}

func runSign(args []string, stdout io.Writer, now func() time.Time) error {
	var creds credentials
	var method, path, body, bodyFile string
	var timestamp int64

	fs := pflag.NewFlagSet("devicectl sign", pflag.ContinueOnError)
	creds.addFlags(fs)
	fs.StringVar(&method, "method", http.MethodPost, "HTTP method")
	fs.StringVar(&path, "path", "/api/devices/heartbeat", "request path; a query string is ignored")
	fs.StringVar(&body, "body", "", "request body")
	fs.StringVar(&bodyFile, "body-file", "", "read the request body from this file")
	fs.Int64Var(&timestamp, "timestamp", 0, "epoch milliseconds to sign with (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := creds.check(); err != nil {
		return err
	}

	raw := []byte(body)
	if bodyFile != "" {
		b, err := os.ReadFile(bodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
		raw = b
	}

	at := now()
	if timestamp > 0 {
		at = time.UnixMilli(timestamp)
	}
	headers := signatureHeaders(creds, at, method, path, raw)
	for _, name := range []string{devicetrust.HeaderDeviceID, devicetrust.HeaderTimestamp, devicetrust.HeaderSignature} {
		fmt.Fprintf(stdout, "%s: %s\n", name, headers.Get(name))
	}
	return nil
}

type heartbeatBody struct {
	UptimeMs  int64   `json:"uptime_ms"`
	FwVersion string  `json:"fw_version"`
	FreeHeap  *int64  `json:"free_heap,omitempty"`
	Status    string  `json:"status"`
	IP        *string `json:"ip,omitempty"`
}

func runHeartbeat(args []string, stdout io.Writer, client *http.Client, now func() time.Time) error {
	var creds credentials
	var server, ip string
	var hb heartbeatBody
	var freeHeap int64

	fs := pflag.NewFlagSet("devicectl heartbeat", pflag.ContinueOnError)
	creds.addFlags(fs)
	fs.StringVar(&server, "server", "http://localhost:8080", "kioskd base URL")
	fs.Int64Var(&hb.UptimeMs, "uptime-ms", 0, "reported uptime in milliseconds")
	fs.StringVar(&hb.FwVersion, "fw-version", "0.0.0", "reported firmware version")
	fs.Int64Var(&freeHeap, "free-heap", -1, "reported free heap in bytes (negative omits it)")
	fs.StringVar(&hb.Status, "status", "OK", "reported status (OK, WARN, ERROR, BOOTING)")
	fs.StringVar(&ip, "ip", "", "reported IP address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := creds.check(); err != nil {
		return err
	}
	if freeHeap >= 0 {
		hb.FreeHeap = &freeHeap
	}
	if ip != "" {
		hb.IP = &ip
	}

	body, err := json.Marshal(hb)
	if err != nil {
		return err
	}

	const path = "/api/devices/heartbeat"
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(server, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for name, values := range signatureHeaders(creds, now(), http.MethodPost, path, body) {
		req.Header[name] = values
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	fmt.Fprintf(stdout, "%d %s\n", resp.StatusCode, strings.TrimSpace(string(respBody)))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server answered %s", resp.Status)
	}
	return nil
}
