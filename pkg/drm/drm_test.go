package drm

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ExpertVagabond/kino/pkg/types"
)

func TestConfigIsConfigured(t *testing.T) {
	c := NewConfig()
	assert.False(t, c.IsConfigured())

	licenseURL, err := url.Parse("https://license.example.com")
	require.NoError(t, err)

	c = Widevine(licenseURL)
	assert.True(t, c.IsConfigured())
	assert.Contains(t, c.SupportedSystems(), types.DrmWidevine)
}

func TestPsshBoxResolvesSystem(t *testing.T) {
	pssh := PsshBox{SystemID: types.DrmWidevine.SystemID(), Data: []byte("test data")}
	system, ok := pssh.DrmSystem()
	require.True(t, ok)
	assert.Equal(t, types.DrmWidevine, system)
}

func TestPsshBase64Roundtrip(t *testing.T) {
	original := []byte("Hello, DRM!")
	encoded := EncodePssh(original)
	decoded, err := DecodePssh(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestClearKeyLicense(t *testing.T) {
	config := ClearKey(map[string]string{"abc123": "key456"})
	manager := NewManager(config)

	license, err := manager.GetClearKeyLicense()
	require.NoError(t, err)
	assert.Equal(t, types.DrmClearKey, license.System)
	assert.Contains(t, string(license.License), "abc123")
}

func TestSelectDrmSystemPrefersPsshMatch(t *testing.T) {
	licenseURL, _ := url.Parse("https://license.example.com")
	config := Widevine(licenseURL)
	manager := NewManager(config)

	manager.SetPsshBoxes([]PsshBox{{SystemID: types.DrmWidevine.SystemID()}})

	system, ok := manager.SelectDrmSystem()
	require.True(t, ok)
	assert.Equal(t, types.DrmWidevine, system)
}

func TestClearKeyFromPassphraseIsDeterministic(t *testing.T) {
	config, err := ClearKeyFromPassphrase("correct horse battery staple", []string{"abc123"})
	require.NoError(t, err)

	again, err := ClearKeyFromPassphrase("correct horse battery staple", []string{"abc123"})
	require.NoError(t, err)

	assert.Equal(t, config.ClearKeyKeys["abc123"], again.ClearKeyKeys["abc123"])
	assert.Len(t, config.ClearKeyKeys["abc123"], 32) // 16 bytes hex-encoded
}

func TestClearKeyFromPassphraseVariesByKeyID(t *testing.T) {
	config, err := ClearKeyFromPassphrase("correct horse battery staple", []string{"abc123", "def456"})
	require.NoError(t, err)
	assert.NotEqual(t, config.ClearKeyKeys["abc123"], config.ClearKeyKeys["def456"])
}

func TestClearKeyFromPassphraseLicenseRoundtrip(t *testing.T) {
	config, err := ClearKeyFromPassphrase("s3cret", []string{"abc123"})
	require.NoError(t, err)

	manager := NewManager(config)
	license, err := manager.GetClearKeyLicense()
	require.NoError(t, err)
	assert.Equal(t, types.DrmClearKey, license.System)
	assert.Contains(t, string(license.License), "abc123")
	assert.Contains(t, string(license.License), config.ClearKeyKeys["abc123"])
}

func TestSessionLifecycle(t *testing.T) {
	manager := NewManager(ClearKey(map[string]string{"k": "v"}))
	session := manager.CreateSession(types.DrmClearKey)
	assert.False(t, session.IsReady())

	license, err := manager.GetClearKeyLicense()
	require.NoError(t, err)

	require.NoError(t, manager.ProcessLicense(session.ID, license))
	got, ok := manager.GetSession(session.ID)
	require.True(t, ok)
	assert.True(t, got.IsReady())
}
