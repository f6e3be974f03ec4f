package fallback

import (
	"encoding/json"
	"testing"

	"github.com/hitoshi/smap-gateway/internal/auth"
	"github.com/hitoshi/smap-gateway/internal/model"
)

// hasKeys はJSONオブジェクトが指定キーをすべて持つかを確認する。
func hasKeys(t *testing.T, v any, keys ...string) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("not a JSON object: %v", err)
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			t.Errorf("missing key %q in %s", k, b)
		}
	}
}

func TestLocationSummary_Schema(t *testing.T) {
	s := LocationSummary(7, "2024-10-01")
	if s.MemberID != 7 || s.Date != "2024-10-01" {
		t.Errorf("unexpected summary %+v", s)
	}
	hasKeys(t, s, "total_distance", "total_time", "step_count", "average_speed", "battery_consumption")
}

func TestDailyLocationLogs_EmptyPointsNotNull(t *testing.T) {
	logs := DailyLocationLogs(7, "2024-10-01")
	b, _ := json.Marshal(logs)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, ok := m["points"].([]any); !ok {
		t.Errorf("points must be an empty array, got %s", b)
	}
}

func TestGroups_EmptyList(t *testing.T) {
	list := Groups()
	if list.Groups == nil || list.Total != 0 {
		t.Errorf("unexpected list %+v", list)
	}
	hasKeys(t, list, "groups", "total")
}

func TestGroup_Visible(t *testing.T) {
	g := Group(12)
	if g.SgtIdx != 12 || g.SgtShow != model.ShowVisible {
		t.Errorf("unexpected group %+v", g)
	}
}

func TestSchedules_EmptyList(t *testing.T) {
	list := Schedules(3)
	if list.GroupIdx != 3 || list.Schedules == nil {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestProfile_FromClaims(t *testing.T) {
	m := Profile(&auth.Claims{MtIdx: 1186, MtName: "홍길동", MtHp: "01012345678"})
	if m.MtIdx != 1186 || m.MtName != "홍길동" || m.MtHp != "01012345678" {
		t.Errorf("unexpected profile %+v", m)
	}
	if Profile(nil).MtIdx != 0 {
		t.Error("nil claims should give an empty profile")
	}
}
