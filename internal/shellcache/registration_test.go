package shellcache

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registrationFixture struct {
	storage CacheStorage
	network *fakeNetwork
	clients *clientRegistry
	reg     *Registration
}

func newRegistrationFixture() *registrationFixture {
	return newRegistrationFixtureOn(NewMemStorage())
}

func newRegistrationFixtureOn(storage CacheStorage) *registrationFixture {
	clients := newClientRegistry()
	return &registrationFixture{
		storage: storage,
		network: newFakeNetwork(),
		clients: clients,
		reg:     NewRegistration(clients, nil),
	}
}

func (f *registrationFixture) manager(t *testing.T, extra string) *Manager {
	t.Helper()
	cfg := testConfig(t, extra)
	f.network.serveShell(cfg)
	return NewManager(cfg, Deps{
		Storage:  f.storage,
		Network:  f.network,
		Clients:  f.clients,
		Notifier: newNotificationCenter(discardLogger()),
	})
}

func TestRegisterFirstGenerationActivates(t *testing.T) {
	f := newRegistrationFixture()
	early := f.clients.Open("/")
	m := f.manager(t, "")

	require.NoError(t, f.reg.Register(context.Background(), m))
	assert.Same(t, m, f.reg.Active())
	assert.Nil(t, f.reg.Waiting())
	assert.Equal(t, StateActive, m.State())

	c, _ := f.clients.Get(early.ID)
	assert.Equal(t, "app-shell-v1", c.Controller)

	late := f.clients.Open("/products")
	assert.Equal(t, "app-shell-v1", late.Controller)
}

func TestRegisterSkipWaitingSupersedesImmediately(t *testing.T) {
	f := newRegistrationFixture()
	v1 := f.manager(t, "")
	require.NoError(t, f.reg.Register(context.Background(), v1))
	page := f.clients.Open("/")

	v2 := f.manager(t, "cache:\n  version: v2\n")
	require.NoError(t, f.reg.Register(context.Background(), v2))

	assert.Same(t, v2, f.reg.Active())
	assert.Equal(t, StateActive, v2.State())
	assert.Equal(t, StateDeleted, v1.State())

	names, err := f.storage.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"app-shell-v2"}, names)

	c, _ := f.clients.Get(page.ID)
	assert.Equal(t, "app-shell-v2", c.Controller, "claimed without reload")

	st := f.reg.Status()
	require.NotNil(t, st.Active)
	assert.Equal(t, "app-shell-v2", st.Active.Name)
	require.Len(t, st.Retired, 1)
	assert.Equal(t, GenerationStatus{Name: "app-shell-v1", State: StateDeleted}, st.Retired[0])
}

func TestSupersededGenerationStaysDeleted(t *testing.T) {
	for _, sc := range storageCases() {
		t.Run(sc.name, func(t *testing.T) {
			f := newRegistrationFixtureOn(sc.open(t))
			v1 := f.manager(t, "")
			require.NoError(t, f.reg.Register(context.Background(), v1))
			v2 := f.manager(t, "cache:\n  version: v2\n")
			require.NoError(t, f.reg.Register(context.Background(), v2))

			// a request v1 was already handling when v2 took over
			f.network.serve("/late", http.StatusOK, "late")
			resp := v1.Intercept(context.Background(), Request{Method: http.MethodGet, URL: "/late"})
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, "late", string(resp.Body))

			names, err := f.storage.Names()
			require.NoError(t, err)
			assert.Equal(t, []string{"app-shell-v2"}, names)

			c, err := f.storage.Open("app-shell-v1")
			require.NoError(t, err)
			keys, err := c.Keys()
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestRegisterWaitsForControlledPages(t *testing.T) {
	f := newRegistrationFixture()
	v1 := f.manager(t, "")
	require.NoError(t, f.reg.Register(context.Background(), v1))
	a := f.clients.Open("/")
	b := f.clients.Open("/products")

	v2 := f.manager(t, "cache:\n  version: v2\n  skipWaiting: false\n")
	require.NoError(t, f.reg.Register(context.Background(), v2))

	assert.Same(t, v1, f.reg.Active())
	assert.Same(t, v2, f.reg.Waiting())
	assert.Equal(t, StateInstalledWaiting, v2.State())

	require.NoError(t, f.reg.ClientGone(context.Background(), a.ID))
	assert.Same(t, v1, f.reg.Active(), "one page is still controlled by v1")

	require.NoError(t, f.reg.ClientGone(context.Background(), b.ID))
	assert.Same(t, v2, f.reg.Active())
	assert.Nil(t, f.reg.Waiting())
	assert.Equal(t, StateDeleted, v1.State())

	names, err := f.storage.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"app-shell-v2"}, names)
}

func TestRegisterWithoutSkipWaitingActivatesWhenNothingControlled(t *testing.T) {
	f := newRegistrationFixture()
	v1 := f.manager(t, "")
	require.NoError(t, f.reg.Register(context.Background(), v1))

	v2 := f.manager(t, "cache:\n  version: v2\n  skipWaiting: false\n")
	require.NoError(t, f.reg.Register(context.Background(), v2))
	assert.Same(t, v2, f.reg.Active())
}

func TestRegisterInstallFailureKeepsCurrentGeneration(t *testing.T) {
	f := newRegistrationFixture()
	v1 := f.manager(t, "")
	require.NoError(t, f.reg.Register(context.Background(), v1))

	v2 := f.manager(t, "cache:\n  version: v2\n")
	f.network.fail["/app.js"] = errOffline

	err := f.reg.Register(context.Background(), v2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install app-shell-v2")
	assert.Same(t, v1, f.reg.Active())
	assert.Equal(t, StateActive, v1.State())
	assert.Equal(t, StateAbsent, v2.State())
	assert.Nil(t, f.reg.Status().Installing)
}

func TestClientGoneUnknown(t *testing.T) {
	f := newRegistrationFixture()
	err := f.reg.ClientGone(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownClient)
}
