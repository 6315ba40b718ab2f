package s3archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	methods []string
}

func newFakeS3(t *testing.T) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{objects: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.methods = append(f.methods, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			f.objects[r.URL.Path] = string(b)
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestLoadConfig_RequiresCredentialsWhenEnabled(t *testing.T) {
	t.Setenv("S3_ARCHIVE_ENABLED", "true")
	t.Setenv("S3_ACCESS_KEY_ID", "")
	t.Setenv("S3_SECRET_ACCESS_KEY", "")
	t.Setenv("S3_BUCKET_NAME", "")

	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("S3_ARCHIVE_ENABLED", "false")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.False(t, cfg.IsEnabled())
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "webhooks/a.json", cfg.ObjectKey("/webhooks/a.json"))

	cfg.Prefix = "prod"
	assert.Equal(t, "prod/webhooks/a.json", cfg.ObjectKey("webhooks/a.json"))
}

func TestNewClient_Disabled(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{})
	assert.Error(t, err)
}

func TestPutPayload(t *testing.T) {
	fake, srv := newFakeS3(t)
	cfg := &Config{
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Region:          "us-east-1",
		BucketName:      "tms-archive",
		EndpointURL:     srv.URL,
		Prefix:          "test",
		Enabled:         true,
	}

	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)

	body := `{"event":"subscription.activated"}`
	require.NoError(t, client.PutPayload(context.Background(), "webhooks/razorpay/2024/01/31/1-subscription_activated.json", []byte(body)))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, body, fake.objects["/tms-archive/test/webhooks/razorpay/2024/01/31/1-subscription_activated.json"])
	assert.Contains(t, fake.methods, "HEAD /tms-archive")
}
