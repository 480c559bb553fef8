package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectByPort(t *testing.T) {
	d := NewDetector("dev")

	tests := []struct {
		name     string
		host     string
		wantType string
		wantErr  bool
	}{
		{name: "admin dev server", host: "localhost:3000", wantType: "admin"},
		{name: "customer dev server", host: "localhost:3001", wantType: "customer"},
		{name: "reseller dev server", host: "localhost:3002", wantType: "reseller"},
		{name: "combined gateway", host: "localhost:8080", wantType: "admin"},
		{name: "portless host defaults to gateway", host: "localhost", wantType: "admin"},
		{name: "unmapped port", host: "localhost:9999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Detect(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, got.PortalType)
		})
	}
}

func TestDetectBySubdomain(t *testing.T) {
	d := NewDetector("prod")

	tests := []struct {
		name     string
		host     string
		wantType string
		wantSlug string
		wantErr  bool
	}{
		{name: "admin subdomain", host: "admin.meridian.example", wantType: "admin"},
		{name: "customer portal", host: "portal.meridian.example", wantType: "customer"},
		{name: "customer my", host: "my.meridian.example", wantType: "customer"},
		{name: "partners", host: "partners.meridian.example", wantType: "reseller"},
		{name: "reseller", host: "reseller.meridian.example", wantType: "reseller"},
		{name: "case insensitive", host: "ADMIN.meridian.example", wantType: "admin"},
		{name: "host with port", host: "admin.meridian.example:443", wantType: "admin"},
		{name: "tenant white-label", host: "northlight.meridian.example", wantType: "customer", wantSlug: "northlight"},
		{name: "bare host", host: "meridian", wantErr: true},
		{name: "empty host", host: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Detect(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, got.PortalType)
			assert.Equal(t, tt.wantSlug, got.TenantSlug)
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple", input: "Northlight Fiber", want: "northlight-fiber"},
		{name: "diacritics", input: "Réseau Métropole", want: "reseau-metropole"},
		{name: "punctuation", input: "Net+Works 2000", want: "net-works-2000"},
		{name: "already slug", input: "my-isp", want: "my-isp"},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Slugify(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
