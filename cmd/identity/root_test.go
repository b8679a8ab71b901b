package identity

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/dFlow/lib/protocol"
)

func TestParsePermissions(t *testing.T) {
	tests := []struct {
		value   string
		want    []protocol.PermissionType
		wantErr bool
	}{
		{value: "create", want: []protocol.PermissionType{protocol.PermissionTCreate}},
		{value: "CREATE, read,Delete", want: []protocol.PermissionType{protocol.PermissionTCreate, protocol.PermissionTRead, protocol.PermissionTDelete}},
		{value: "update", want: []protocol.PermissionType{protocol.PermissionTUpdate}},
		{value: "write", wantErr: true},
		{value: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parsePermissions(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %v", tt.value, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.value, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%q: got %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseEnums(t *testing.T) {
	if got, err := parseOwnerType("role"); err != nil || got != protocol.OwnerTRole {
		t.Errorf("owner type: got %v (%v)", got, err)
	}
	if _, err := parseOwnerType("group"); err == nil {
		t.Error("expected error for unknown owner type")
	}

	if got, err := parseResourceType("Tenant"); err != nil || got != protocol.ResourceTTenant {
		t.Errorf("resource type: got %v (%v)", got, err)
	}
	if _, err := parseResourceType("UNSPECIFIED"); err == nil {
		t.Error("expected error for unspecified resource type")
	}
}
