package presence

import (
	"testing"
	"time"

	"github.com/prattlelabs/prattle-core/internal/config"
)

func newTestRegistry(cfg config.NodeConfig) *Registry {
	return &Registry{
		cfg:   cfg,
		nodes: make(map[string]*NodeInfo),
	}
}

func TestUpdateNodeKeepsRoleAndCapabilitiesOnHeartbeat(t *testing.T) {
	r := newTestRegistry(config.NodeConfig{ID: "node-a"})
	announced := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	caps := []Capability{{Name: "transcribe", Attributes: map[string]string{"mode": "mock"}}}

	r.updateNode("node-a", "consolidator", caps, announced, true)
	// Heartbeats carry no role or capability payload.
	r.updateNode("node-a", "", nil, announced.Add(2*time.Second), true)

	nodes := r.Query(nil)
	if len(nodes) != 1 {
		t.Fatalf("registry holds %d nodes, want 1", len(nodes))
	}
	node := nodes[0]
	if node.Role != "consolidator" {
		t.Errorf("role = %q, want consolidator", node.Role)
	}
	if len(node.Capabilities) != 1 || node.Capabilities[0].Name != "transcribe" {
		t.Errorf("capabilities = %+v, want transcribe", node.Capabilities)
	}
	if !node.LastSeen.Equal(announced.Add(2 * time.Second)) {
		t.Errorf("last seen = %v, want heartbeat time", node.LastSeen)
	}
}

func TestEvaluateHealthMarksStaleNodes(t *testing.T) {
	r := newTestRegistry(config.NodeConfig{ID: "node-a", HeartbeatTimeout: 6000})

	r.updateNode("node-a", "consolidator", nil, time.Now(), true)
	r.updateNode("node-b", "capture", nil, time.Now().Add(-time.Minute), true)

	r.evaluateHealth()

	if !r.Healthy() {
		t.Error("fresh local node marked unhealthy")
	}
	for _, node := range r.Query(nil) {
		if node.ID == "node-b" && node.Healthy {
			t.Error("stale node still marked healthy")
		}
	}
}

func TestQueryFilters(t *testing.T) {
	r := newTestRegistry(config.NodeConfig{ID: "node-a"})
	now := time.Now()
	r.updateNode("node-a", "consolidator", []Capability{{Name: "transcribe"}}, now, true)
	r.updateNode("node-b", "capture", []Capability{{Name: "record"}}, now, true)

	byCap := r.Query(WithCapabilityFilter("transcribe"))
	if len(byCap) != 1 || byCap[0].ID != "node-a" {
		t.Errorf("capability filter returned %+v, want node-a", byCap)
	}

	byRole := r.Query(WithRoleFilter("capture"))
	if len(byRole) != 1 || byRole[0].ID != "node-b" {
		t.Errorf("role filter returned %+v, want node-b", byRole)
	}

	if all := r.Query(nil); len(all) != 2 {
		t.Errorf("nil filter returned %d nodes, want 2", len(all))
	}
}

func TestConvertCapabilities(t *testing.T) {
	caps := convertCapabilities([]config.NodeCapability{
		{Name: "transcribe", Attributes: map[string]string{"mode": "exec", "language": "en"}},
	})
	if len(caps) != 1 {
		t.Fatalf("converted %d capabilities, want 1", len(caps))
	}
	if caps[0].Name != "transcribe" || caps[0].Attributes["mode"] != "exec" {
		t.Errorf("converted capability = %+v", caps[0])
	}
	if convertCapabilities(nil) != nil {
		t.Error("empty input should convert to nil")
	}
}
