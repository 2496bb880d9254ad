// Package events consumes configuration-change events from Kafka and applies
// them to the route registry and authorization cache, keeping the gateway in
// sync with the control plane without restarts.
package events

import "encoding/json"

// ChangeType classifies a configuration change.
type ChangeType string

const (
	ChangeCreated ChangeType = "CREATED"
	ChangeUpdated ChangeType = "UPDATED"
	ChangeDeleted ChangeType = "DELETED"
)

// ConfigEvent is the envelope shared by all configuration topics. The
// payload shape depends on the topic, so it is decoded in a second pass.
type ConfigEvent struct {
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

// CollectionChangedPayload announces a collection create/update/delete.
type CollectionChangedPayload struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ServiceID  string     `json:"serviceId"`
	ChangeType ChangeType `json:"changeType"`
}

// ServiceChangedPayload announces a backend service registration change.
// BasePath carries the service's base URL.
type ServiceChangedPayload struct {
	ServiceID   string     `json:"serviceId"`
	ServiceName string     `json:"serviceName"`
	BasePath    string     `json:"basePath"`
	ChangeType  ChangeType `json:"changeType"`
}

// AuthzChangedPayload replaces a collection's authorization policies.
type AuthzChangedPayload struct {
	CollectionID   string               `json:"collectionId"`
	CollectionName string               `json:"collectionName"`
	RoutePolicies  []RoutePolicyPayload `json:"routePolicies"`
	FieldPolicies  []FieldPolicyPayload `json:"fieldPolicies"`
}

// RoutePolicyPayload is one operation-level policy; PolicyRules is a JSON
// document of the form {"roles": [...]}.
type RoutePolicyPayload struct {
	Operation   string `json:"operation"`
	PolicyID    string `json:"policyId"`
	PolicyRules string `json:"policyRules"`
}

// FieldPolicyPayload restricts a field to a set of roles.
type FieldPolicyPayload struct {
	FieldName   string `json:"fieldName"`
	PolicyID    string `json:"policyId"`
	PolicyRules string `json:"policyRules"`
}

// RecordChangedPayload announces a data record change. Unlike the
// configuration topics it is not wrapped in a ConfigEvent envelope; the
// fields sit at the top level of the message.
type RecordChangedPayload struct {
	EventID        string     `json:"eventId"`
	TenantID       string     `json:"tenantId"`
	CollectionName string     `json:"collectionName"`
	RecordID       string     `json:"recordId"`
	ChangeType     ChangeType `json:"changeType"`
}

// WorkerAssignmentPayload announces a collection being assigned to or
// removed from a worker.
type WorkerAssignmentPayload struct {
	WorkerID       string     `json:"workerId"`
	CollectionID   string     `json:"collectionId"`
	CollectionName string     `json:"collectionName"`
	WorkerBaseURL  string     `json:"workerBaseUrl"`
	ChangeType     ChangeType `json:"changeType"`
}
