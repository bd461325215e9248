package bundle

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://artifacts.storage.example.com"

func TestRegistryCreateAndResolve(t *testing.T) {
	reg := NewRegistry(4)

	ref, err := reg.Create(testOrigin, "<html></html>")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref.URL(), "ref://"))
	assert.Equal(t, 1, reg.LiveCount(testOrigin))

	got, ok := reg.Resolve(ref.ID)
	require.True(t, ok)
	assert.Equal(t, "<html></html>", got.Content)
}

func TestRegistryEnforcesPerOriginQuota(t *testing.T) {
	reg := NewRegistry(2)

	for i := 0; i < 2; i++ {
		_, err := reg.Create(testOrigin, "doc")
		require.NoError(t, err)
	}
	_, err := reg.Create(testOrigin, "doc")
	assert.ErrorIs(t, err, ErrOriginQuota)

	// other origins have their own quota
	_, err = reg.Create("https://other.example.com", "doc")
	assert.NoError(t, err)
}

func TestReleaseReturnsQuota(t *testing.T) {
	reg := NewRegistry(1)

	ref, err := reg.Create(testOrigin, "doc")
	require.NoError(t, err)
	_, err = reg.Create(testOrigin, "doc")
	require.ErrorIs(t, err, ErrOriginQuota)

	ref.Release()
	assert.Equal(t, 0, reg.LiveCount(testOrigin))

	_, err = reg.Create(testOrigin, "doc")
	assert.NoError(t, err)

	_, ok := reg.Resolve(ref.ID)
	assert.False(t, ok, "released refs no longer resolve")
}

func TestReleaseIsIdempotent(t *testing.T) {
	reg := NewRegistry(4)
	ref, err := reg.Create(testOrigin, "doc")
	require.NoError(t, err)

	ref.Release()
	ref.Release()
	assert.Equal(t, 0, reg.LiveCount(testOrigin))

	other, err := reg.Create(testOrigin, "doc")
	require.NoError(t, err)
	ref.Release() // double release must not evict someone else's ref
	_, ok := reg.Resolve(other.ID)
	assert.True(t, ok)
}

func TestLiveTotalSpansOrigins(t *testing.T) {
	reg := NewRegistry(4)

	a, err := reg.Create(testOrigin, "doc")
	require.NoError(t, err)
	_, err = reg.Create("https://other.example.com", "doc")
	require.NoError(t, err)

	assert.Equal(t, 1, reg.LiveCount(testOrigin))
	assert.Equal(t, 2, reg.LiveTotal())

	a.Release()
	assert.Equal(t, 1, reg.LiveTotal())
}

func TestRegistryQuotaUnderChurn(t *testing.T) {
	reg := NewRegistry(8)
	for i := 0; i < 100; i++ {
		ref, err := reg.Create(testOrigin, fmt.Sprintf("doc-%d", i))
		require.NoError(t, err)
		ref.Release()
	}
	assert.Equal(t, 0, reg.LiveCount(testOrigin))
}
