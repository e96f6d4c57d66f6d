package config

import (
	"os"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// Save renders cfg as HCL2 and writes it to path, for callers that persist
// an effective or programmatically-built config. It does not preserve comments from any
// prior file at path -- that requires AST-level sync, which HomeRoute's
// admin surface does not need (spec.md §1's admin dashboard is out of
// scope).
func Save(cfg *Config, path string) error {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	version := cfg.SchemaVersion
	if version == "" {
		version = CurrentSchemaVersion
	}
	body.SetAttributeValue("schema_version", cty.StringVal(version))
	if cfg.StateDir != "" {
		body.SetAttributeValue("state_dir", cty.StringVal(cfg.StateDir))
	}

	if n := cfg.Network; n != nil {
		b := body.AppendNewBlock("network", nil).Body()
		setOpt(b, "interface", n.Interface)
		setOpt(b, "base_domain", n.BaseDomain)
	}
	if d := cfg.DHCP; d != nil {
		b := body.AppendNewBlock("dhcp", nil).Body()
		b.SetAttributeValue("enabled", cty.BoolVal(d.Enabled))
		setOpt(b, "range_start", d.RangeStart)
		setOpt(b, "range_end", d.RangeEnd)
		setOpt(b, "netmask", d.Netmask)
		setOpt(b, "gateway", d.Gateway)
		setOpt(b, "domain", d.Domain)
		setOpt(b, "lease_file", d.LeaseFile)
		if d.DefaultLeaseTime > 0 {
			b.SetAttributeValue("default_lease_time", cty.NumberIntVal(int64(d.DefaultLeaseTime)))
		}
		for _, sl := range d.StaticLeases {
			lb := b.AppendNewBlock("static_lease", []string{sl.MAC}).Body()
			lb.SetAttributeValue("ip", cty.StringVal(sl.IP))
			setOpt(lb, "hostname", sl.Hostname)
		}
	}
	if dn := cfg.DNS; dn != nil {
		b := body.AppendNewBlock("dns", nil).Body()
		b.SetAttributeValue("enabled", cty.BoolVal(dn.Enabled))
		b.SetAttributeValue("expand_hosts", cty.BoolVal(dn.ExpandHosts))
		setOpt(b, "local_domain", dn.LocalDomain)
		setOpt(b, "block_response", dn.BlockResponse)
		for _, u := range dn.Upstreams {
			b.AppendNewBlock("upstream", []string{u.Addr})
		}
		for _, r := range dn.StaticRecords {
			rb := b.AppendNewBlock("record", []string{r.Name}).Body()
			rb.SetAttributeValue("type", cty.StringVal(r.Type))
			rb.SetAttributeValue("value", cty.StringVal(r.Value))
		}
	}
	if ab := cfg.Adblock; ab != nil {
		b := body.AppendNewBlock("adblock", nil).Body()
		b.SetAttributeValue("enabled", cty.BoolVal(ab.Enabled))
		setOpt(b, "block_response", ab.BlockResponse)
		setOpt(b, "cache_path", ab.CachePath)
		setOpt(b, "auto_update_every", ab.AutoUpdateEvery)
		if len(ab.Sources) > 0 {
			b.SetAttributeValue("sources", stringListVal(ab.Sources))
		}
	}
	if p := cfg.Proxy; p != nil {
		b := body.AppendNewBlock("proxy", nil).Body()
		if p.HTTPPort > 0 {
			b.SetAttributeValue("http_port", cty.NumberIntVal(int64(p.HTTPPort)))
		}
		if p.HTTPSPort > 0 {
			b.SetAttributeValue("https_port", cty.NumberIntVal(int64(p.HTTPSPort)))
		}
		setOpt(b, "tls_mode", p.TLSMode)
		for _, r := range p.Routes {
			rb := b.AppendNewBlock("route", []string{r.ID}).Body()
			rb.SetAttributeValue("domain", cty.StringVal(r.Domain))
			rb.SetAttributeValue("target_host", cty.StringVal(r.TargetHost))
			rb.SetAttributeValue("target_port", cty.NumberIntVal(int64(r.TargetPort)))
			rb.SetAttributeValue("enabled", cty.BoolVal(r.Enabled))
		}
	}
	if r := cfg.Relay; r != nil {
		b := body.AppendNewBlock("relay", nil).Body()
		b.SetAttributeValue("enabled", cty.BoolVal(r.Enabled))
		setOpt(b, "role", r.Role)
		setOpt(b, "vps_addr", r.VPSAddr)
		setOpt(b, "local_target", r.LocalTarget)
	}

	return os.WriteFile(path, f.Bytes(), 0o644)
}

func setOpt(b *hclwrite.Body, name, val string) {
	if val != "" {
		b.SetAttributeValue(name, cty.StringVal(val))
	}
}

func stringListVal(ss []string) cty.Value {
	vals := make([]cty.Value, len(ss))
	for i, s := range ss {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}
