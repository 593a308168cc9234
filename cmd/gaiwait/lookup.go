package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"gaiwait/pkg/gai"
	"gaiwait/pkg/resolver"

	"golang.org/x/sync/errgroup"
)

// lookupResult is the outcome of one command-line target.
type lookupResult struct {
	target string
	ips    []string
	err    error
}

// runLookup resolves every target concurrently and prints the outcomes in
// argument order. It returns the process exit code.
func runLookup(targets []string) int {
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "lookup needs at least one name")
		return 2
	}

	fam, err := parseFamily(*family)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer logger.Close()

	r, err := resolver.NewFromConfig(&cfg.Resolver, gai.Options{Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create resolver: %v\n", err)
		return 1
	}
	resolver.SetDefault(r)

	results := lookupAll(context.Background(), r, targets, fam)
	if printResults(os.Stdout, results) > 0 {
		return 1
	}
	return 0
}

func lookupAll(ctx context.Context, r *gai.Resolver, targets []string, fam int) []lookupResult {
	results := make([]lookupResult, len(targets))
	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			results[i] = lookupOne(ctx, r, target, fam)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func lookupOne(ctx context.Context, r *gai.Resolver, target string, fam int) lookupResult {
	node, service := splitTarget(target)
	res, err := r.Lookup(ctx, gai.Request{
		Node:    node,
		Service: service,
		Hints:   &gai.Hints{Family: fam, SockType: gai.SockStream},
	})
	if err != nil {
		return lookupResult{target: target, err: err}
	}
	defer res.Release()

	out := lookupResult{target: target}
	for _, ai := range res.Addrs {
		if service != "" {
			out.ips = append(out.ips, ai.Addr.String())
		} else {
			out.ips = append(out.ips, ai.Addr.Addr().String())
		}
	}
	return out
}

// splitTarget splits "name:service"; bare names and IPv6 literals have no service.
func splitTarget(target string) (node, service string) {
	if host, port, err := net.SplitHostPort(target); err == nil {
		return host, port
	}
	return target, ""
}

// printResults writes one line per target and returns the number of failures.
func printResults(w io.Writer, results []lookupResult) int {
	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			code := gai.Code(res.err)
			fmt.Fprintf(w, "%s\terror %d (%s): %v\n", res.target, code, gai.CodeName(code), res.err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", res.target, strings.Join(res.ips, " "))
	}
	return failed
}

func parseFamily(s string) (int, error) {
	switch strings.ToLower(s) {
	case "", "any", "unspec":
		return gai.AFUnspec, nil
	case "4", "inet", "ipv4":
		return gai.AFInet, nil
	case "6", "inet6", "ipv6":
		return gai.AFInet6, nil
	default:
		return 0, fmt.Errorf("unknown address family %q (want any, 4 or 6)", s)
	}
}
