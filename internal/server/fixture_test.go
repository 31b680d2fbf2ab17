package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/zinstall/internal/auth"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/download"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/installer"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/platform"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/tasks"
	"github.com/ZebulonRouseFrantzich/zinstall/internal/verify"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const testManifest = `
installing_message = "Installing"

[[channels]]
name = "stable"
description = "Stable releases"

[[channels]]
name = "nightly"
description = "Nightly builds"
requires_authorization = true

[[packages]]
name = "engine"
description = "The engine"
default = true
channel = "stable"
version = "1.0.0"
url = "{{base}}/pkg/engine.tar.gz"
format = "tar.gz"

[[packages]]
name = "engine-nightly"
channel = "nightly"
version = "1.1.0-dev"
url = "{{base}}/pkg/nightly.zip"
format = "zip"

[[packages]]
name = "engine-windows"
channel = "stable"
version = "1.0.0"
url = "{{base}}/pkg/engine.zip"
format = "zip"
condition = "platform.is_windows"

[authentication]
auth_url = "{{base}}/auth"
pub_key_base64 = "{{key}}"

  [authentication.validation]
  iss = "auth.example.com"
  aud = "installer"
`

// Users signed with the wrong key by the fake auth service.
const forgedUser = "mallory"

var (
	keyOnce  sync.Once
	signKey  *rsa.PrivateKey
	forgeKey *rsa.PrivateKey
)

func testKeys() (*rsa.PrivateKey, *rsa.PrivateKey) {
	keyOnce.Do(func() {
		var err error
		if signKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if forgeKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return signKey, forgeKey
}

type fakeDesktop struct {
	dark    bool
	openErr error

	mu     sync.Mutex
	opened []string
}

func (d *fakeDesktop) DarkMode(context.Context) bool {
	return d.dark
}

func (d *fakeDesktop) OpenBrowser(_ context.Context, url string) error {
	if d.openErr != nil {
		return d.openErr
	}
	d.mu.Lock()
	d.opened = append(d.opened, url)
	d.mu.Unlock()
	return nil
}

type stageCall struct {
	url, exe string
	args     []string
}

type fakeUpdater struct {
	err   error
	calls []stageCall
}

func (u *fakeUpdater) Stage(_ context.Context, url, currentExe string, args []string) error {
	u.calls = append(u.calls, stageCall{url: url, exe: currentExe, args: args})
	return u.err
}

// fixture wires a Server to an upstream serving the manifest, packages and
// the authentication endpoint.
type fixture struct {
	t        *testing.T
	fw       *installer.Framework
	srv      *Server
	upstream *httptest.Server
	desktop  *fakeDesktop
	updater  *fakeUpdater

	shutdowns atomic.Int32
	authCalls atomic.Int32

	mu             sync.Mutex
	manifest       string
	manifestStatus int
	files          map[string][]byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fx := &fixture{
		t:              t,
		desktop:        &fakeDesktop{},
		updater:        &fakeUpdater{},
		manifestStatus: http.StatusOK,
		files:          map[string][]byte{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.toml", func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		status, body := fx.manifestStatus, fx.manifest
		fx.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	mux.HandleFunc("/pkg/", func(w http.ResponseWriter, r *http.Request) {
		fx.mu.Lock()
		body, ok := fx.files[strings.TrimPrefix(r.URL.Path, "/pkg/")]
		fx.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	})
	mux.HandleFunc("/auth", fx.serveAuth)
	fx.upstream = httptest.NewServer(mux)
	t.Cleanup(fx.upstream.Close)

	good, _ := testKeys()
	der, err := x509.MarshalPKIXPublicKey(&good.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	fx.setManifest(strings.NewReplacer(
		"{{base}}", fx.upstream.URL,
		"{{key}}", base64.StdEncoding.EncodeToString(der),
	).Replace(testManifest))

	fx.fw = installer.New(config.BaseAttributes{
		Name:      "zinstall",
		TargetURL: fx.upstream.URL + "/manifest.toml",
	})

	downloader := download.New(download.WithRetries(0))
	verifier, err := verify.NewVerifier("")
	if err != nil {
		t.Fatal(err)
	}

	fx.srv = New(fx.fw, Services{
		Loader:      config.NewLoader(downloader, nil),
		Gate:        auth.NewGate(),
		Desktop:     fx.desktop,
		Detector:    platform.StaticDetector{Info: platform.Info{OS: "linux", Arch: "amd64", ArchRaw: "amd64"}},
		Pipeline:    tasks.NewPipeline(fx.fw, downloader, verifier),
		Updater:     fx.updater,
		ExePath:     "/opt/zinstall/maintenancetool",
		RestartArgs: []string{"--launcher", "/opt/zinstall/engine"},
		Shutdown:    func() { fx.shutdowns.Add(1) },
	}, nil)

	return fx
}

// serveAuth issues a token for the X-USERNAME header.
func (fx *fixture) serveAuth(w http.ResponseWriter, r *http.Request) {
	fx.authCalls.Add(1)

	user := r.Header.Get(auth.HeaderUsername)
	if r.Header.Get(auth.HeaderToken) == "wrong" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	good, forged := testKeys()
	key := good
	if user == forgedUser {
		key = forged
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	raw, err := jwt.Signed(signer).Claims(auth.Claims{
		Subject:         user,
		Issuer:          "auth.example.com",
		Audience:        jwt.Audience{"installer"},
		Expiry:          jwt.NewNumericDate(time.Now().Add(time.Hour)),
		Roles:           []string{"supporter"},
		ReleaseChannels: []string{"nightly"},
		AccountLinked:   true,
	}).Serialize()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write([]byte(raw))
}

func (fx *fixture) setManifest(body string) {
	fx.mu.Lock()
	fx.manifest = body
	fx.mu.Unlock()
}

func (fx *fixture) setManifestStatus(status int) {
	fx.mu.Lock()
	fx.manifestStatus = status
	fx.mu.Unlock()
}

func (fx *fixture) publish(name string, body []byte) {
	fx.mu.Lock()
	fx.files[name] = body
	fx.mu.Unlock()
}

// do sends a request to the API. A non-nil form is sent url-encoded.
func (fx *fixture) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	fx.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (fx *fixture) loadConfig() {
	fx.t.Helper()
	if rec := fx.do(http.MethodGet, "/config", nil); rec.Code != http.StatusOK {
		fx.t.Fatalf("GET /config = %d %s", rec.Code, rec.Body.String())
	}
}

func (fx *fixture) authenticate(user, token string) *httptest.ResponseRecorder {
	return fx.do(http.MethodPost, "/authenticate", url.Values{"username": {user}, "token": {token}})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}
