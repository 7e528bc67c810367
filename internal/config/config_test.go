//go:build unit

package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseYAML_Success(t *testing.T) {
	data := []byte(`
defaults:
  timeout: 10s
  grace: 1s
hosts:
  web1:
    ip: 10.0.0.5
    port: 2222
    username: deploy
    key_file: ~/.ssh/id_rsa
  db1:
    ip: 10.0.0.6
    username: deploy
    password: hunter2
logging:
  level: debug
`)

	cfg, err := ParseYAML(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	timeout, err := cfg.Timeout()
	if err != nil {
		t.Fatalf("parsing timeout: %v", err)
	}
	if timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", timeout)
	}

	web1, ok := cfg.Hosts["web1"]
	if !ok {
		t.Fatal("expected host web1")
	}
	if got := web1.Address(); got != "10.0.0.5:2222" {
		t.Errorf("Address() = %q, want %q", got, "10.0.0.5:2222")
	}

	db1 := cfg.Hosts["db1"]
	if got := db1.Address(); got != "10.0.0.6:22" {
		t.Errorf("Address() = %q, want default port, got %q", got, got)
	}
	creds := db1.Credentials()
	if creds.Username != "deploy" || creds.Password != "hunter2" {
		t.Errorf("unexpected credentials: %+v", creds)
	}
}

func TestParseYAML_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "missing ip",
			yaml: `
hosts:
  bad:
    username: deploy
    password: x
`,
			wantErr: "hosts.bad.ip must be set",
		},
		{
			name: "missing username",
			yaml: `
hosts:
  bad:
    ip: 10.0.0.1
    password: x
`,
			wantErr: "hosts.bad.username must be set",
		},
		{
			name: "no auth material",
			yaml: `
hosts:
  bad:
    ip: 10.0.0.1
    username: deploy
`,
			wantErr: "key_file or password",
		},
		{
			name: "bad timeout",
			yaml: `
defaults:
  timeout: banana
`,
			wantErr: "defaults.timeout must be a non-negative duration",
		},
		{
			name: "bad log level",
			yaml: `
logging:
  level: loud
`,
			wantErr: "logging.level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestParseYAML_StrictRejectsUnknownKeys(t *testing.T) {
	_, err := ParseYAML([]byte("bogus_key: true\n"))
	if err == nil {
		t.Fatal("expected strict decoding to reject unknown keys")
	}
}

func TestDefaultConfigFileParses(t *testing.T) {
	cfg, err := ParseYAML([]byte(GetDefaultConfigFile()))
	if err != nil {
		t.Fatalf("embedded default config does not parse: %v", err)
	}
	if len(cfg.Hosts) == 0 {
		t.Error("expected the default config to document at least one host")
	}
}
