package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vishalp-65/patient-case-notes-system/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.9:51234"
	assert.Equal(t, "192.168.1.9", ClientIPFromRequest(r))

	r.Header.Set("X-Real-IP", "10.1.1.1")
	assert.Equal(t, "10.1.1.1", ClientIPFromRequest(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIPFromRequest(r))
}

func TestDeviceLabel(t *testing.T) {
	chromeMac := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	assert.Contains(t, DeviceLabel(chromeMac), "Chrome on ")
	assert.Equal(t, "", DeviceLabel(""))
	assert.Equal(t, "bot", DeviceLabel("Googlebot/2.1 (+http://www.google.com/bot.html)"))
}

func TestClientMetadataMiddleware(t *testing.T) {
	var device, ip string
	h := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		device = requestcontext.Device(r.Context())
		ip = requestcontext.ClientIP(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:9000"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "127.0.0.1", ip)
	assert.Contains(t, device, "Firefox")
}
