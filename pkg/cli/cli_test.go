package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/kintone-mail-relay/pkg/apiresponses"
	"github.com/telekom/kintone-mail-relay/pkg/config"
	"github.com/telekom/kintone-mail-relay/pkg/mail"
	"github.com/telekom/kintone-mail-relay/pkg/version"
)

const validConfig = `
smtpServers:
  - name: default
    host: smtp.example.com
kintone:
  domain: example.cybozu.com
  apps:
    - id: 3
      type: source
      apiToken: source-token
      types: [ADD_RECORD]
    - id: 20
      type: template
      apiToken: template-token
server:
  listenAddress: "127.0.0.1:0"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, cfg Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(cfg, &out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGetEnvString(t *testing.T) {
	t.Setenv("RELAY_TEST_ENV", "custom-value")
	assert.Equal(t, "custom-value", getEnvString("RELAY_TEST_ENV", "default"))
	assert.Equal(t, "fallback", getEnvString("RELAY_UNKNOWN_ENV", "fallback"))
}

func TestGetEnvBool(t *testing.T) {
	for _, val := range []string{"true", "TRUE", "1", "yes", "Yes"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("RELAY_TEST_BOOL", val)
			assert.True(t, getEnvBool("RELAY_TEST_BOOL", false))
		})
	}
	for _, val := range []string{"false", "False", "0", "no", "NO"} {
		t.Run(val, func(t *testing.T) {
			t.Setenv("RELAY_TEST_BOOL", val)
			assert.False(t, getEnvBool("RELAY_TEST_BOOL", true))
		})
	}

	t.Setenv("RELAY_TEST_BOOL_INVALID", "sometimes")
	assert.True(t, getEnvBool("RELAY_TEST_BOOL_INVALID", true), "invalid values fall back to the default")
	assert.False(t, getEnvBool("RELAY_TEST_BOOL_MISSING", false))
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("RELAY_DEBUG", "true")
	t.Setenv("RELAY_CONFIG_PATH", "/etc/relay/config.yaml")
	t.Setenv("RELAY_ENV_FILE", "/etc/relay/env")

	assert.Equal(t, Config{Debug: true, ConfigPath: "/etc/relay/config.yaml", EnvFile: "/etc/relay/env"}, DefaultConfig())
}

func TestDefaultConfig_Unset(t *testing.T) {
	t.Setenv("RELAY_CONFIG_PATH", "")
	os.Unsetenv("RELAY_CONFIG_PATH")
	assert.Equal(t, config.DefaultConfigPath, DefaultConfig().ConfigPath)
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing default file is ignored", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg := Config{}
		assert.NoError(t, cfg.LoadEnvFile())
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		cfg := Config{EnvFile: filepath.Join(t.TempDir(), "absent.env")}
		err := cfg.LoadEnvFile()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "absent.env")
	})

	t.Run("exports variables without overriding", func(t *testing.T) {
		t.Setenv("RELAY_TEST_PRESET", "from-process")
		t.Cleanup(func() { _ = os.Unsetenv("RELAY_TEST_FROM_FILE") })

		cfg := Config{EnvFile: writeFile(t, "relay.env", "RELAY_TEST_FROM_FILE=token-123\nRELAY_TEST_PRESET=from-file\n")}
		require.NoError(t, cfg.LoadEnvFile())
		assert.Equal(t, "token-123", os.Getenv("RELAY_TEST_FROM_FILE"))
		assert.Equal(t, "from-process", os.Getenv("RELAY_TEST_PRESET"))
	})
}

func TestPrint(t *testing.T) {
	cfg := Config{Debug: true, ConfigPath: "c.yaml"}
	assert.NotPanics(t, func() { cfg.Print(zaptest.NewLogger(t).Sugar()) })
}

func TestVersionCommand(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		out, err := run(t, Config{}, "version")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "relay "+version.Version))
	})

	t.Run("json", func(t *testing.T) {
		out, err := run(t, Config{}, "version", "-o", "json")
		require.NoError(t, err)
		var info version.BuildInfo
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.Equal(t, version.Version, info.Version)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := run(t, Config{}, "version", "-o", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "version: "+version.Version)
	})
}

const (
	templateJSON = `{
		"fromMailAddress": {"type": "SINGLE_LINE_TEXT", "value": "a@x.com"},
		"toMailAddress": {"type": "SINGLE_LINE_TEXT", "value": "{{email}}"},
		"subject": {"type": "SINGLE_LINE_TEXT", "value": "Hi {{name}}"},
		"body": {"type": "MULTI_LINE_TEXT", "value": "Body"},
		"attachments": {"type": "FILE", "value": []}
	}`
	notificationJSON = `{
		"type": "ADD_RECORD",
		"app": {"id": 3},
		"record": {
			"email": {"type": "SINGLE_LINE_TEXT", "value": "b@y.com"},
			"name": {"type": "SINGLE_LINE_TEXT", "value": "Ken"}
		},
		"url": "https://example.cybozu.com/k/3/show#record=5"
	}`
)

func TestRenderCommand(t *testing.T) {
	tpl := writeFile(t, "template.json", templateJSON)
	n := writeFile(t, "notification.json", notificationJSON)
	t.Chdir(t.TempDir())

	t.Run("plain", func(t *testing.T) {
		out, err := run(t, Config{}, "render", "--template", tpl, "--notification", n)
		require.NoError(t, err)
		assert.Equal(t, "From: a@x.com\nTo: b@y.com\nSubject: Hi Ken\n\nBody\n", out)
	})

	t.Run("json", func(t *testing.T) {
		out, err := run(t, Config{}, "render", "--template", tpl, "--notification", n, "-o", "json")
		require.NoError(t, err)
		var msg mail.Message
		require.NoError(t, json.Unmarshal([]byte(out), &msg))
		assert.Equal(t, mail.Message{From: "a@x.com", To: "b@y.com", Subject: "Hi Ken", Text: "Body"}, msg)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := run(t, Config{}, "render", "--template", tpl, "--notification", n, "-o", "xml")
		assert.ErrorContains(t, err, "unknown output format")
	})

	t.Run("flags are required", func(t *testing.T) {
		_, err := run(t, Config{}, "render", "--template", tpl)
		assert.Error(t, err)
	})

	t.Run("unreadable template", func(t *testing.T) {
		_, err := run(t, Config{}, "render", "--template", writeFile(t, "bad.json", "{"), "--notification", n)
		assert.ErrorContains(t, err, "decoding")
	})
}

func TestCheckConfigCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("reports missing log app", func(t *testing.T) {
		path := writeFile(t, "config.yaml", validConfig)
		out, err := run(t, Config{ConfigPath: path}, "check-config")
		require.NoError(t, err)
		assert.Contains(t, out, "domain: example.cybozu.com")
		assert.Contains(t, out, "app 3: source types=[ADD_RECORD] smtpProfile=default")
		assert.Contains(t, out, "smtp default: smtp.example.com:587 secure=false")
		assert.Contains(t, out, "warning: config lookup: no log app configured")
		assert.NotContains(t, out, "\nok\n")
	})

	t.Run("complete config", func(t *testing.T) {
		content := strings.Replace(validConfig, "server:", "    - id: 30\n      type: log\n      apiToken: log-token\nserver:", 1)
		path := writeFile(t, "config.yaml", content)

		out, err := run(t, Config{ConfigPath: path}, "check-config")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(out, "ok\n"), out)
	})

	t.Run("invalid config", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "kintone:\n  apps: []\n")
		_, err := run(t, Config{ConfigPath: path}, "check-config")
		assert.ErrorContains(t, err, "kintone.domain is required")
	})

	t.Run("config path from env file", func(t *testing.T) {
		path := writeFile(t, "config.yaml", validConfig)
		envFile := writeFile(t, "relay.env", "RELAY_CONFIG_PATH="+path+"\n")
		t.Setenv("RELAY_CONFIG_PATH", "")
		os.Unsetenv("RELAY_CONFIG_PATH")

		out, err := run(t, Config{ConfigPath: "does-not-exist.yaml"}, "check-config", "--env-file", envFile)
		require.NoError(t, err)
		assert.Contains(t, out, "config: "+path)
	})
}

func TestNewService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg, err := config.Load(writeFile(t, "config.yaml", validConfig))
	require.NoError(t, err)

	svc, err := newService(cfg, zaptest.NewLogger(t), true)
	require.NoError(t, err)
	defer svc.Close()

	w := httptest.NewRecorder()
	svc.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	body := strings.Replace(notificationJSON, "example.cybozu.com", "evil.example.com", 1)
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/hooks/kintone", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	svc.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apiresponses.BadRequestText, w.Body.String())
}

func TestNewService_InvalidTrustedProxies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg, err := config.Load(writeFile(t, "config.yaml", validConfig))
	require.NoError(t, err)
	cfg.Server.TrustedProxies = []string{"not-an-ip"}

	_, err = newService(cfg, zaptest.NewLogger(t), true)
	assert.Error(t, err)
}
