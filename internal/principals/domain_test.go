package principals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTenantInvariant(t *testing.T) {
	tenant := "tenant-a"
	assert.NoError(t, Principal{Kind: KindPlatformOperator}.Validate())
	assert.NoError(t, Principal{Kind: KindTenantStaff, TenantID: &tenant}.Validate())
	assert.ErrorIs(t, Principal{Kind: KindTenantMember}.Validate(), ErrTenantRequired)
	empty := ""
	assert.ErrorIs(t, Principal{Kind: KindTenantOwner, TenantID: &empty}.Validate(), ErrTenantRequired)
	assert.Error(t, Principal{Kind: "wizard"}.Validate())
}

func TestIdentityContextRoundTrip(t *testing.T) {
	tenant := "tenant-a"
	id := IdentityOf(Principal{ID: "p1", TenantID: &tenant, Kind: KindTenantOwner})
	ctx := ContextWithIdentity(context.Background(), id)
	got, ok := IdentityFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tenant-a", got.Tenant())
	assert.False(t, got.IsPlatformOperator())

	_, ok = IdentityFromContext(context.Background())
	assert.False(t, ok)
}
