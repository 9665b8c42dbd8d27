package validator

import (
	"net/netip"
)

// NormalizeIP 规范化 IP：去掉 IPv6 zone，IPv4-mapped 地址还原为 IPv4。
// 无法解析时返回 false
func NormalizeIP(ip string) (string, bool) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", false
	}
	return addr.WithZone("").Unmap().String(), true
}

// IPOrDefault 返回规范化后的 IP，无效时返回 defaultIP
func IPOrDefault(ip, defaultIP string) string {
	if normalized, ok := NormalizeIP(ip); ok {
		return normalized
	}
	return defaultIP
}
