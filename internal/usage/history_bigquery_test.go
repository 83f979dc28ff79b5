package usage

import (
	"strings"
	"testing"
)

func TestStatsQueryTargetsTableWithNamedParams(t *testing.T) {
	sql := statsQuery("`proj.entitlements.usage_events`")
	if !strings.Contains(sql, "FROM `proj.entitlements.usage_events`") {
		t.Fatalf("expected table reference, got %s", sql)
	}
	for _, param := range []string{"@user_id", "@platform", "@since"} {
		if !strings.Contains(sql, param) {
			t.Fatalf("expected %s in query", param)
		}
	}
}

func TestNewBigQueryHistoryRequiresClient(t *testing.T) {
	if _, err := NewBigQueryHistory(nil); err == nil {
		t.Fatalf("expected error without client")
	}
}
