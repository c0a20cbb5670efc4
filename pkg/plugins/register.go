// Package plugins collects the concrete process plugins named in
// SPEC_FULL.md §4.6 and wires them into a plugin.Registry.
package plugins

import "github.com/netweaver/flowmeter/pkg/plugin"

// RegisterAll registers every named plugin's factory, in the fixed order
// SPEC_FULL.md §4.6 lists them. Order determines each plugin's compact ID
// and its position within a flow's IPFIX extension record.
func RegisterAll(reg *plugin.Registry) {
	// Full-depth tier.
	reg.Register("pstats", func() plugin.Plugin { return NewPstats(false, false) })
	reg.Register("phists", func() plugin.Plugin { return NewPhists() })
	reg.Register("dns", func() plugin.Plugin { return NewDNS() })
	reg.Register("passivedns", func() plugin.Plugin { return NewPassivedns() })
	reg.Register("basicplus", func() plugin.Plugin { return NewBasicplus() })
	reg.Register("flow_hash", func() plugin.Plugin { return NewFlowHash() })
	reg.Register("icmp", func() plugin.Plugin { return NewICMP() })
	reg.Register("vlan_mpls", func() plugin.Plugin { return NewVLANMPLS() })
	reg.Register("qinq", func() plugin.Plugin { return NewQinQ() })
	reg.Register("idpcontent", func() plugin.Plugin { return NewIDPContent() })
	reg.Register("nettisa", func() plugin.Plugin { return NewNettisa() })

	// Moderate-depth tier.
	reg.Register("tls", func() plugin.Plugin { return NewTLS() })
	reg.Register("http", func() plugin.Plugin { return NewHTTP() })
	reg.Register("quic", func() plugin.Plugin { return NewQUIC() })
	reg.Register("sip", func() plugin.Plugin { return NewSIP() })
	reg.Register("ntp", func() plugin.Plugin { return NewNTP() })
	reg.Register("netbios", func() plugin.Plugin { return NewNetBIOS() })
	reg.Register("sockpktinfo", func() plugin.Plugin { return NewSockPktInfo() })
	reg.Register("scitags", func() plugin.Plugin { return NewSciTags() })
	reg.Register("mqtt", func() plugin.Plugin { return NewMQTT() })
	reg.Register("ssdp", func() plugin.Plugin { return NewSSDP() })
	reg.Register("osquery", func() plugin.Plugin { return NewOSQuery() })

	// Confidence-score detector tier.
	reg.Register("wg", func() plugin.Plugin { return NewWG() })
	reg.Register("ovpn", func() plugin.Plugin { return NewOVPN() })
	reg.Register("ssadetector", func() plugin.Plugin { return NewSSADetector() })
}
