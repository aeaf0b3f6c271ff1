package models

import "time"

const (
	DefaultImageTag   = "latest"
	DefaultRecordType = "CNAME"

	StatusDeployed = "deployed"
)

// Deployment record statuses
const (
	DeploymentPending    = "pending"
	DeploymentDeployed   = "deployed"
	DeploymentFailed     = "failed"
	DeploymentRolledBack = "rolled_back"
	DeploymentRemoved    = "removed"
)

// Deployment record types
const (
	DeploymentTypeDeploy = "deploy"
	DeploymentTypeRemove = "remove"
)

// Infrastructure output keys recognised by the deployment activity
const (
	OutputClusterName = "clusterName"
	OutputServiceName = "serviceName"
)

// DeployApplicationRequest asks for a tenant's application to be deployed
type DeployApplicationRequest struct {
	TenantID              string                 `json:"tenantId" validate:"required"`
	TenantKey             string                 `json:"tenantKey" validate:"required,tenant_key"`
	Tier                  TenantTier             `json:"tier" validate:"required,tier"`
	InfrastructureOutputs map[string]string      `json:"infrastructureOutputs,omitempty"`
	ImageTag              string                 `json:"imageTag,omitempty" validate:"omitempty,image_tag"`
	Version               string                 `json:"version,omitempty"`
	Config                map[string]interface{} `json:"config,omitempty"`
}

// ImageTagOrDefault returns the requested tag, or "latest" when none was given
func (r *DeployApplicationRequest) ImageTagOrDefault() string {
	if r.ImageTag == "" {
		return DefaultImageTag
	}
	return r.ImageTag
}

// ResourceData describes a physical resource created or touched by a deployment
type ResourceData struct {
	Type               string                 `json:"type"`
	ExternalIdentifier string                 `json:"externalIdentifier"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// DeploymentResult is returned by a successful DeployApplication
type DeploymentResult struct {
	DeploymentID      string         `json:"deploymentId"`
	Status            string         `json:"status"`
	AppPlaneURL       string         `json:"appPlaneUrl"`
	AdminPortalURL    string         `json:"adminPortalUrl"`
	Resources         []ResourceData `json:"resources"`
	Version           string         `json:"version"`
	HealthCheckPassed bool           `json:"healthCheckPassed"`
}

// RollbackRequest identifies the deployment to revert
type RollbackRequest struct {
	TenantID     string `json:"tenantId" validate:"required"`
	DeploymentID string `json:"deploymentId" validate:"required"`
}

// RemoveDeploymentRequest identifies the tenant deployment to tear down
type RemoveDeploymentRequest struct {
	TenantID  string     `json:"tenantId" validate:"required"`
	TenantKey string     `json:"tenantKey" validate:"required,tenant_key"`
	Tier      TenantTier `json:"tier" validate:"required,tier"`
}

// DnsRequest asks for tenant domains to point at an endpoint
type DnsRequest struct {
	TenantID       string   `json:"tenantId" validate:"required"`
	TenantKey      string   `json:"tenantKey" validate:"required,tenant_key"`
	Domains        []string `json:"domains" validate:"required,min=1,dive,fqdn"`
	TargetEndpoint string   `json:"targetEndpoint" validate:"required"`
	RecordType     string   `json:"recordType,omitempty" validate:"omitempty,record_type"`
}

// RecordTypeOrDefault returns the requested record type, or CNAME
func (r *DnsRequest) RecordTypeOrDefault() string {
	if r.RecordType == "" {
		return DefaultRecordType
	}
	return r.RecordType
}

// DnsRecord is one configured record
type DnsRecord struct {
	Domain     string `json:"domain"`
	RecordType string `json:"recordType"`
	Value      string `json:"value"`
	TTL        int64  `json:"ttl"`
}

// DnsResult is returned by ConfigureDns
type DnsResult struct {
	Configured bool        `json:"configured"`
	Records    []DnsRecord `json:"records"`
}

// Deployment is the persisted history entry of one DeployApplication
// invocation, used to find the state a rollback must restore.
type Deployment struct {
	ID                     string     `json:"id"`
	TenantID               string     `json:"tenant_id"`
	TenantKey              string     `json:"tenant_key"`
	Tier                   TenantTier `json:"tier"`
	ImageTag               string     `json:"image_tag"`
	Version                string     `json:"version"`
	ClusterName            string     `json:"cluster_name,omitempty"`
	ServiceName            string     `json:"service_name,omitempty"`
	PreviousTaskDefinition string     `json:"previous_task_definition,omitempty"`
	TaskDefinition         string     `json:"task_definition,omitempty"`
	PreviousConfig         *string    `json:"previous_config,omitempty"`
	ConfigApplied          bool       `json:"config_applied,omitempty"` // shared config may have been written
	Status                 string     `json:"status"`
	Type                   string     `json:"type"` // deploy, remove
	Message                string     `json:"message,omitempty"`
	DeployedAt             time.Time  `json:"deployed_at"`
}

// DeploymentEvent is a timestamped step recorded against a deployment
type DeploymentEvent struct {
	ID           int64     `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	EventType    string    `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
	Details      string    `json:"details,omitempty"`
}

// TenantConfig is a pooled tenant's row in the shared configuration store
type TenantConfig struct {
	TenantID  string                 `json:"tenant_id"`
	TenantKey string                 `json:"tenant_key"`
	ImageTag  string                 `json:"image_tag"`
	Version   string                 `json:"version"`
	Config    map[string]interface{} `json:"config"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	DatabaseAccessible bool   `json:"database_accessible"`
}

type ErrorResponse struct {
	Error   string    `json:"error"`
	Kind    string    `json:"kind"`
	Details string    `json:"details,omitempty"`
	Time    time.Time `json:"time"`
}
