// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostid

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/bureau-foundation/logship/lib/netutil"
)

// DefaultProbes returns the standard probe order: EC2, ECS, hostname,
// interface address. httpClient is used for the ECS task metadata
// endpoints; nil selects http.DefaultClient.
func DefaultProbes(httpClient *http.Client) []Probe {
	return []Probe{
		NewEC2Probe(imds.Options{}),
		&ECSProbe{Client: httpClient},
		&HostnameProbe{},
		&IPProbe{},
	}
}

// EC2Probe reads the instance id from the EC2 instance metadata
// service. The SDK client obtains an IMDSv2 session token first and
// falls back to IMDSv1 when token requests are not supported.
type EC2Probe struct {
	client *imds.Client
}

// NewEC2Probe builds the probe from IMDS client options. The SDK's
// own retries are disabled: the resolver's per-probe timeout already
// decides how long the endpoint gets.
func NewEC2Probe(options imds.Options) *EC2Probe {
	if options.Retryer == nil {
		options.Retryer = aws.NopRetryer{}
	}
	return &EC2Probe{client: imds.New(options)}
}

func (p *EC2Probe) Name() string { return "ec2" }

func (p *EC2Probe) Probe(ctx context.Context) (Identity, error) {
	output, err := p.client.GetMetadata(ctx, &imds.GetMetadataInput{Path: "instance-id"})
	if err != nil {
		return Identity{}, fmt.Errorf("querying EC2 instance metadata: %w", err)
	}
	defer output.Content.Close()

	body, err := netutil.ReadResponse(output.Content)
	if err != nil {
		return Identity{}, fmt.Errorf("reading EC2 instance id: %w", err)
	}
	instanceID := strings.TrimSpace(string(body))
	if instanceID == "" {
		return Identity{}, fmt.Errorf("EC2 instance metadata returned an empty instance id")
	}
	return Identity{Origin: OriginEC2InstanceID, Value: instanceID}, nil
}

// ECS task metadata endpoint locations. The v4 and v3 base URIs are
// injected into the container environment by the ECS agent; v2 is a
// fixed link-local address.
const (
	ECSMetadataV4Variable = "ECS_CONTAINER_METADATA_URI_V4"
	ECSMetadataV3Variable = "ECS_CONTAINER_METADATA_URI"
	ECSMetadataV2Endpoint = "http://169.254.170.2/v2/metadata"
)

var taskARNPattern = regexp.MustCompile(`arn:[^:]+:ecs:[^:]+:[0-9]{12}:task/(.*)$`)

// ECSProbe reads the task id from the ECS task metadata endpoint,
// trying v4, v3 and v2 in that order.
type ECSProbe struct {
	// Client performs the metadata requests. Nil selects
	// http.DefaultClient.
	Client *http.Client

	// Getenv looks up the endpoint variables. Nil selects os.Getenv.
	Getenv func(string) string

	// V2Endpoint overrides ECSMetadataV2Endpoint. Empty selects the
	// default.
	V2Endpoint string
}

func (p *ECSProbe) Name() string { return "ecs" }

func (p *ECSProbe) Probe(ctx context.Context) (Identity, error) {
	var failures []string
	for _, endpoint := range p.endpoints() {
		taskID, err := p.fetchTaskID(ctx, endpoint)
		if err == nil {
			return Identity{Origin: OriginECSTaskID, Value: taskID}, nil
		}
		failures = append(failures, err.Error())
		if ctx.Err() != nil {
			break
		}
	}
	return Identity{}, fmt.Errorf("no ECS task metadata endpoint answered: %s", strings.Join(failures, "; "))
}

func (p *ECSProbe) endpoints() []string {
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	var endpoints []string
	for _, variable := range []string{ECSMetadataV4Variable, ECSMetadataV3Variable} {
		if base := getenv(variable); base != "" {
			endpoints = append(endpoints, strings.TrimSuffix(base, "/")+"/task")
		}
	}
	v2 := p.V2Endpoint
	if v2 == "" {
		v2 = ECSMetadataV2Endpoint
	}
	return append(endpoints, v2)
}

// taskMetadata is the part of the task metadata response the probe
// reads. The endpoint returns many more fields.
type taskMetadata struct {
	Cluster string `json:"Cluster"`
	TaskARN string `json:"TaskARN"`
}

func (p *ECSProbe) fetchTaskID(ctx context.Context, endpoint string) (string, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	response, err := client.Do(request)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return "", fmt.Errorf("GET %s: HTTP %d: %s", endpoint, response.StatusCode,
			strings.TrimSpace(netutil.ErrorBody(response.Body)))
	}

	var metadata taskMetadata
	if err := netutil.DecodeResponse(response.Body, &metadata); err != nil {
		return "", fmt.Errorf("decoding task metadata from %s: %w", endpoint, err)
	}
	return taskIDFromARN(metadata.TaskARN)
}

// taskIDFromARN extracts the resource part after "task/". With the
// long ARN format this includes the cluster name
// ("my-cluster/0123abcd...").
func taskIDFromARN(arn string) (string, error) {
	match := taskARNPattern.FindStringSubmatch(arn)
	if match == nil || match[1] == "" {
		return "", fmt.Errorf("invalid ECS task ARN %q", arn)
	}
	return match[1], nil
}

// HostnameProbe uses the kernel hostname.
type HostnameProbe struct {
	// Hostname overrides os.Hostname.
	Hostname func() (string, error)
}

func (p *HostnameProbe) Name() string { return "hostname" }

func (p *HostnameProbe) Probe(context.Context) (Identity, error) {
	hostname := p.Hostname
	if hostname == nil {
		hostname = os.Hostname
	}
	name, err := hostname()
	if err != nil {
		return Identity{}, fmt.Errorf("reading hostname: %w", err)
	}
	if name == "" {
		return Identity{}, fmt.Errorf("hostname is empty")
	}
	return Identity{Origin: OriginHostname, Value: name}, nil
}

// IPProbe uses the first routable interface address.
type IPProbe struct {
	// InterfaceAddrs overrides net.InterfaceAddrs.
	InterfaceAddrs func() ([]net.Addr, error)
}

func (p *IPProbe) Name() string { return "ip-address" }

func (p *IPProbe) Probe(context.Context) (Identity, error) {
	interfaceAddrs := p.InterfaceAddrs
	if interfaceAddrs == nil {
		interfaceAddrs = net.InterfaceAddrs
	}
	addresses, err := interfaceAddrs()
	if err != nil {
		return Identity{}, fmt.Errorf("listing interface addresses: %w", err)
	}
	for _, address := range addresses {
		var ip net.IP
		switch value := address.(type) {
		case *net.IPNet:
			ip = value.IP
		case *net.IPAddr:
			ip = value.IP
		default:
			continue
		}
		if usableAddress(ip) {
			return Identity{Origin: OriginIPAddress, Value: ip.String()}, nil
		}
	}
	return Identity{}, fmt.Errorf("no usable interface address among %d", len(addresses))
}

// usableAddress rejects addresses that do not identify this host to
// anyone else.
func usableAddress(ip net.IP) bool {
	if ip == nil || ip.IsUnspecified() || ip.IsLoopback() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil && ip4.Equal(net.IPv4bcast) {
		return false
	}
	return true
}
