package firewall

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RouteDiff 一次同步中的变更计数
type RouteDiff struct {
	Deleted int
	Added   int
}

// Changed 是否有变更
func (d RouteDiff) Changed() bool { return d.Deleted+d.Added > 0 }

// RouteDescription 返回 cidr 对应托管路由的描述
func RouteDescription(prefix string, cidr string) string {
	return prefix + " " + cidr
}

// nonCompliant 挑出需删除的路由：经 gateway 但网络已不需要的路由、
// 经其他网关的目标网络路由，以及合规路由的重复项
func nonCompliant(routes []Route, want map[string]bool, gateway string) []Route {
	var out []Route
	seen := map[string]bool{}
	for _, r := range routes {
		viaManaged := r.GatewayName() == gateway
		switch {
		case !want[r.Network] && viaManaged:
			out = append(out, r)
		case want[r.Network] && !viaManaged:
			out = append(out, r)
		case want[r.Network] && viaManaged:
			if seen[r.Network] {
				out = append(out, r)
			}
			seen[r.Network] = true
		}
	}
	return out
}

// ReconcileRoutes 使防火墙经 gateway 路由每个 cidr 且仅路由这些网络
// 只有发生变更时才调用 Reconfigure
func ReconcileRoutes(ctx context.Context, api RouteAPI, cidrs []string, gateway string, descrPrefix string, log logrus.FieldLogger) (RouteDiff, error) {
	var diff RouteDiff
	want := map[string]bool{}
	for _, c := range cidrs {
		want[c] = true
	}

	routes, err := api.SearchRoutes(ctx)
	if err != nil {
		return diff, fmt.Errorf("search routes: %w", err)
	}
	for _, r := range nonCompliant(routes, want, gateway) {
		if err := api.DelRoute(ctx, r.UUID); err != nil {
			return diff, err
		}
		log.Infof("deleted route %s via %s", r.Network, r.Gateway)
		diff.Deleted++
	}

	if diff.Deleted > 0 {
		if routes, err = api.SearchRoutes(ctx); err != nil {
			return diff, fmt.Errorf("search routes: %w", err)
		}
	}
	present := map[string]bool{}
	for _, r := range routes {
		if r.GatewayName() == gateway {
			present[r.Network] = true
		}
	}
	for _, c := range cidrs {
		if present[c] {
			continue
		}
		present[c] = true
		route := Route{Network: c, Gateway: gateway, Descr: RouteDescription(descrPrefix, c), Disabled: "0"}
		if _, err := api.AddRoute(ctx, route); err != nil {
			return diff, err
		}
		log.Infof("added route %s via %s", c, gateway)
		diff.Added++
	}

	if diff.Changed() {
		if err := api.Reconfigure(ctx); err != nil {
			return diff, err
		}
	}
	return diff, nil
}
