// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostid

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// scriptedProbe returns a fixed result and counts invocations.
type scriptedProbe struct {
	name     string
	identity Identity
	err      error
	calls    atomic.Int32
}

func (p *scriptedProbe) Name() string { return p.name }

func (p *scriptedProbe) Probe(context.Context) (Identity, error) {
	p.calls.Add(1)
	return p.identity, p.err
}

func TestResolverFirstSuccessWins(t *testing.T) {
	failing := &scriptedProbe{name: "ec2", err: errors.New("connection refused")}
	winner := &scriptedProbe{name: "ecs", identity: Identity{Origin: OriginECSTaskID, Value: "task-1"}}
	never := &scriptedProbe{name: "hostname", identity: Identity{Origin: OriginHostname, Value: "box"}}

	resolver := NewResolver(slog.Default(), 0, failing, winner, never)
	identity, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity.Value != "task-1" || identity.Origin != OriginECSTaskID {
		t.Fatalf("Resolve() = %+v, want task-1 from ECS", identity)
	}
	if never.calls.Load() != 0 {
		t.Fatal("probe after the first success was called")
	}
}

func TestResolverMemoizes(t *testing.T) {
	probe := &scriptedProbe{name: "hostname", identity: Identity{Origin: OriginHostname, Value: "box"}}
	resolver := NewResolver(slog.Default(), 0, probe)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if identity, err := resolver.Resolve(context.Background()); err != nil || identity.Value != "box" {
				t.Errorf("Resolve() = %+v, %v", identity, err)
			}
		}()
	}
	wg.Wait()

	if calls := probe.calls.Load(); calls != 1 {
		t.Fatalf("probe called %d times, want 1", calls)
	}
}

func TestResolverAllFail(t *testing.T) {
	first := &scriptedProbe{name: "a", err: errors.New("nope")}
	empty := &scriptedProbe{name: "b", identity: Identity{Origin: OriginHostname}}
	resolver := NewResolver(slog.Default(), 0, first, empty)

	_, err := resolver.Resolve(context.Background())
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("Resolve() error = %v, want ErrUnresolved", err)
	}

	// Failures are not cached.
	_, _ = resolver.Resolve(context.Background())
	if calls := first.calls.Load(); calls != 2 {
		t.Fatalf("probe called %d times after two failed resolutions, want 2", calls)
	}
}

// blockingProbe waits for its context, proving the resolver applies
// the per-probe timeout.
type blockingProbe struct{}

func (blockingProbe) Name() string { return "blocking" }

func (blockingProbe) Probe(ctx context.Context) (Identity, error) {
	<-ctx.Done()
	return Identity{}, ctx.Err()
}

func TestResolverProbeTimeoutFallsThrough(t *testing.T) {
	fallback := &scriptedProbe{name: "hostname", identity: Identity{Origin: OriginHostname, Value: "box"}}
	resolver := NewResolver(slog.Default(), 10*time.Millisecond, blockingProbe{}, fallback)

	identity, err := resolver.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if identity.Value != "box" {
		t.Fatalf("Resolve() = %+v, want fallback", identity)
	}
}

func TestECSProbeEndpointOrder(t *testing.T) {
	var v4Calls, v3Calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/v4/task":
			v4Calls.Add(1)
			http.Error(writer, "agent restarting", http.StatusServiceUnavailable)
		case "/v3/task":
			v3Calls.Add(1)
			writer.Header().Set("Content-Type", "application/json")
			writer.Write([]byte(`{
				"Cluster": "default",
				"TaskARN": "arn:aws:ecs:us-west-2:123456789012:task/default/158d1c8083dd49d6b527399fd6414f5c",
				"Family": "logship"
			}`))
		default:
			http.NotFound(writer, request)
		}
	}))
	defer server.Close()

	environment := map[string]string{
		ECSMetadataV4Variable: server.URL + "/v4",
		ECSMetadataV3Variable: server.URL + "/v3/",
	}
	probe := &ECSProbe{
		Client:     server.Client(),
		Getenv:     func(name string) string { return environment[name] },
		V2Endpoint: server.URL + "/v2/metadata",
	}

	identity, err := probe.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if identity.Origin != OriginECSTaskID || identity.Value != "default/158d1c8083dd49d6b527399fd6414f5c" {
		t.Fatalf("Probe() = %+v", identity)
	}
	if v4Calls.Load() != 1 || v3Calls.Load() != 1 {
		t.Fatalf("v4 calls = %d, v3 calls = %d, want 1 each", v4Calls.Load(), v3Calls.Load())
	}
}

func TestECSProbeV2Fallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/v2/metadata" {
			http.NotFound(writer, request)
			return
		}
		writer.Write([]byte(`{"TaskARN": "arn:aws:ecs:eu-west-1:123456789012:task/abcdef"}`))
	}))
	defer server.Close()

	probe := &ECSProbe{
		Client:     server.Client(),
		Getenv:     func(string) string { return "" },
		V2Endpoint: server.URL + "/v2/metadata",
	}
	identity, err := probe.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if identity.Value != "abcdef" {
		t.Fatalf("Probe() = %+v, want abcdef", identity)
	}
}

func TestECSProbeRejectsBadARN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Write([]byte(`{"TaskARN": "arn:aws:ec2:us-east-1:123456789012:instance/i-1"}`))
	}))
	defer server.Close()

	probe := &ECSProbe{
		Client:     server.Client(),
		Getenv:     func(string) string { return "" },
		V2Endpoint: server.URL,
	}
	if _, err := probe.Probe(context.Background()); err == nil {
		t.Fatal("Probe() accepted a non-ECS ARN")
	}
}

func TestTaskIDFromARN(t *testing.T) {
	tests := []struct {
		arn     string
		want    string
		wantErr bool
	}{
		{arn: "arn:aws:ecs:us-east-1:012345678910:task/9781c248-0edd-4cdb-9a93-f63cb662a5d3", want: "9781c248-0edd-4cdb-9a93-f63cb662a5d3"},
		{arn: "arn:aws-cn:ecs:cn-north-1:012345678910:task/cluster/abc", want: "cluster/abc"},
		{arn: "arn:aws:ecs:us-east-1:0123:task/abc", wantErr: true},
		{arn: "arn:aws:ecs:us-east-1:012345678910:task/", wantErr: true},
		{arn: "", wantErr: true},
	}
	for _, test := range tests {
		got, err := taskIDFromARN(test.arn)
		if test.wantErr {
			if err == nil {
				t.Errorf("taskIDFromARN(%q) = %q, want error", test.arn, got)
			}
			continue
		}
		if err != nil || got != test.want {
			t.Errorf("taskIDFromARN(%q) = %q, %v; want %q", test.arn, got, err, test.want)
		}
	}
}

func TestEC2Probe(t *testing.T) {
	const token = "session-token"
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		switch {
		case request.Method == http.MethodPut && request.URL.Path == "/latest/api/token":
			writer.Header().Set("X-Aws-Ec2-Metadata-Token-Ttl-Seconds", "21600")
			writer.Write([]byte(token))
		case request.Method == http.MethodGet && request.URL.Path == "/latest/meta-data/instance-id":
			if request.Header.Get("X-Aws-Ec2-Metadata-Token") != token {
				http.Error(writer, "missing token", http.StatusUnauthorized)
				return
			}
			writer.Write([]byte("i-0123456789abcdef0"))
		default:
			http.NotFound(writer, request)
		}
	}))
	defer server.Close()

	probe := NewEC2Probe(imds.Options{Endpoint: server.URL})
	identity, err := probe.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if identity.Origin != OriginEC2InstanceID || identity.Value != "i-0123456789abcdef0" {
		t.Fatalf("Probe() = %+v", identity)
	}
}

func TestEC2ProbeUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	probe := NewEC2Probe(imds.Options{Endpoint: server.URL})
	if _, err := probe.Probe(context.Background()); err == nil {
		t.Fatal("Probe() succeeded against an endpoint with no metadata")
	}
}

func TestHostnameProbe(t *testing.T) {
	probe := &HostnameProbe{Hostname: func() (string, error) { return "web-7", nil }}
	identity, err := probe.Probe(context.Background())
	if err != nil || identity.Value != "web-7" || identity.Origin != OriginHostname {
		t.Fatalf("Probe() = %+v, %v", identity, err)
	}

	empty := &HostnameProbe{Hostname: func() (string, error) { return "", nil }}
	if _, err := empty.Probe(context.Background()); err == nil {
		t.Fatal("Probe() accepted an empty hostname")
	}
}

func TestIPProbeSkipsUnusableAddresses(t *testing.T) {
	addresses := []net.Addr{
		&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.ParseIP("::1"), Mask: net.CIDRMask(128, 128)},
		&net.IPNet{IP: net.ParseIP("169.254.10.1"), Mask: net.CIDRMask(16, 32)},
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("255.255.255.255"), Mask: net.CIDRMask(32, 32)},
		&net.IPNet{IP: net.ParseIP("0.0.0.0"), Mask: net.CIDRMask(0, 32)},
		&net.IPNet{IP: net.ParseIP("10.1.2.3"), Mask: net.CIDRMask(8, 32)},
	}
	probe := &IPProbe{InterfaceAddrs: func() ([]net.Addr, error) { return addresses, nil }}

	identity, err := probe.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if identity.Value != "10.1.2.3" || identity.Origin != OriginIPAddress {
		t.Fatalf("Probe() = %+v, want 10.1.2.3", identity)
	}

	onlyLoopback := &IPProbe{InterfaceAddrs: func() ([]net.Addr, error) { return addresses[:2], nil }}
	if _, err := onlyLoopback.Probe(context.Background()); err == nil {
		t.Fatal("Probe() accepted loopback-only interfaces")
	}
}

func TestOriginString(t *testing.T) {
	for origin, want := range map[Origin]string{
		OriginEC2InstanceID: "ec2-instance-id",
		OriginECSTaskID:     "ecs-task-id",
		OriginHostname:      "hostname",
		OriginIPAddress:     "ip-address",
	} {
		if got := origin.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", origin, got, want)
		}
	}
}
