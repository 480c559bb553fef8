package portal

import (
	"fmt"
	"net"
	"strings"
)

// devPortMap routes local development hosts to portal types by port. Each
// portal SPA runs on its own dev-server port; 8080 is the combined gateway.
var devPortMap = map[string]string{
	"3000": "admin",
	"3001": "customer",
	"3002": "reseller",
	"8080": "admin",
}

// subdomainMap routes production hosts to portal types by their first label.
var subdomainMap = map[string]string{
	"admin":    "admin",
	"portal":   "customer",
	"my":       "customer",
	"partners": "reseller",
	"reseller": "reseller",
}

// Detection is the outcome of mapping a request host to a portal.
type Detection struct {
	PortalType string
	TenantSlug string // set when the host carried a tenant-specific label
}

// Detector maps a runtime host to a portal type. Development environments
// are port-routed, everything else subdomain-routed.
type Detector struct {
	environment string
}

func NewDetector(environment string) *Detector {
	return &Detector{environment: environment}
}

// Detect resolves the portal for a host like "admin.meridian.example" or
// "localhost:3001". Unknown subdomains are treated as tenant slugs on the
// customer portal (white-label deployments put the tenant name first).
func (d *Detector) Detect(host string) (Detection, error) {
	if host == "" {
		return Detection{}, fmt.Errorf("portal detection requires a host")
	}

	if d.environment == "dev" {
		return d.detectByPort(host)
	}
	return d.detectBySubdomain(host)
}

func (d *Detector) detectByPort(host string) (Detection, error) {
	_, port, err := net.SplitHostPort(host)
	if err != nil {
		// no port at all: dev gateway default
		return Detection{PortalType: "admin"}, nil
	}
	portalType, ok := devPortMap[port]
	if !ok {
		return Detection{}, fmt.Errorf("no portal mapped to dev port %s", port)
	}
	return Detection{PortalType: portalType}, nil
}

func (d *Detector) detectBySubdomain(host string) (Detection, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return Detection{}, fmt.Errorf("host %q has no subdomain to detect a portal from", host)
	}

	first := strings.ToLower(labels[0])
	if portalType, ok := subdomainMap[first]; ok {
		return Detection{PortalType: portalType}, nil
	}

	slug, err := Slugify(first)
	if err != nil {
		return Detection{}, fmt.Errorf("host %q does not map to a portal", host)
	}
	return Detection{PortalType: "customer", TenantSlug: slug}, nil
}
