package query_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/qqmikey/datachat/pkg/query"
)

func testEnv(tables map[string][]map[string]any, maxRows int) *query.Env {
	return &query.Env{
		Entities: map[string]query.EntityRef{
			"User": {
				Key:       "app.User",
				Namespace: "app",
				Name:      "User",
				Fields:    []string{"id", "username", "active", "created_at"},
			},
			"Payment": {
				Key:       "app.Payment",
				Namespace: "app",
				Name:      "Payment",
				Fields:    []string{"id", "user_id", "amount", "created_at"},
			},
		},
		Source:  query.NewMemorySource(tables),
		MaxRows: maxRows,
		Now: func() time.Time {
			return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
		},
	}
}

func paymentRows(n int) []map[string]any {
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{
			"id":         int64(i + 1),
			"user_id":    int64(i%10 + 1),
			"amount":     float64(10 * (i + 1)),
			"created_at": time.Date(2024, time.Month(i%12+1), 2, 0, 0, 0, 0, time.UTC),
		})
	}
	return rows
}

func TestRunScalarCount(t *testing.T) {
	env := testEnv(map[string][]map[string]any{
		"app.User": {
			{"id": int64(1), "username": "alice", "active": true},
			{"id": int64(2), "username": "bob", "active": false},
			{"id": int64(3), "username": "carol", "active": true},
		},
	}, 100)

	res := gt.R1(query.Run(context.Background(), `result = User.filter(active == true).count()`, env)).NoError(t)
	gt.V(t, res.Value).Equal(int64(2))
	gt.V(t, res.Rows).Equal(1)
	gt.False(t, res.Truncated)
}

func TestRunRowLimiting(t *testing.T) {
	t.Run("150 rows with max 100 truncates", func(t *testing.T) {
		env := testEnv(map[string][]map[string]any{"app.Payment": paymentRows(150)}, 100)
		res := gt.R1(query.Run(context.Background(), `result = Payment.values(id, amount)`, env)).NoError(t)
		gt.V(t, res.Rows).Equal(100)
		gt.True(t, res.Truncated)
	})

	t.Run("50 rows with max 100 passes through", func(t *testing.T) {
		env := testEnv(map[string][]map[string]any{"app.Payment": paymentRows(50)}, 100)
		res := gt.R1(query.Run(context.Background(), `result = Payment.values(id, amount)`, env)).NoError(t)
		gt.V(t, res.Rows).Equal(50)
		gt.False(t, res.Truncated)
	})
}

func TestRunUndefinedName(t *testing.T) {
	env := testEnv(nil, 100)

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := query.Run(context.Background(), `result = Order.count()`, env)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("is not defined")
	})

	t.Run("namespaced entity reference", func(t *testing.T) {
		_, err := query.Run(context.Background(), `result = app.User.count()`, env)
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("is not defined")
		gt.S(t, err.Error()).Contains("app.User")
	})
}

func TestRunForbiddenCapabilities(t *testing.T) {
	env := testEnv(nil, 100)

	cases := []struct {
		name string
		code string
	}{
		{"import statement", "import os\nresult = 1"},
		{"open call", `result = open("/etc/passwd")`},
		{"exec call", `result = exec("rm -rf /")`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := query.Run(context.Background(), tc.code, env)
			gt.Error(t, err)
		})
	}
}

func TestRunUnknownField(t *testing.T) {
	env := testEnv(nil, 100)
	_, err := query.Run(context.Background(), `result = User.filter(email == "x@y.z").count()`, env)
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("unknown field")
}

func TestRunMissingResultBinding(t *testing.T) {
	env := testEnv(map[string][]map[string]any{"app.User": {{"id": int64(1)}}}, 100)
	res := gt.R1(query.Run(context.Background(), `total = User.count()`, env)).NoError(t)
	gt.Nil(t, res.Value)
}

func TestRunGroupByBucket(t *testing.T) {
	env := testEnv(map[string][]map[string]any{"app.Payment": paymentRows(24)}, 100)
	res := gt.R1(query.Run(
		context.Background(),
		`result = Payment.group_by(month(created_at)).count()`,
		env,
	)).NoError(t)

	rows := gt.Cast[[]any](t, res.Value)
	gt.V(t, len(rows)).Equal(12)
	first := gt.Cast[map[string]any](t, rows[0])
	gt.V(t, first["count"]).Equal(int64(2))
}

func TestRunTimeFilter(t *testing.T) {
	env := testEnv(map[string][]map[string]any{
		"app.User": {
			{"id": int64(1), "created_at": time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)},
			{"id": int64(2), "created_at": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}, 100)

	res := gt.R1(query.Run(
		context.Background(),
		`result = User.filter(created_at >= days_ago(7)).count()`,
		env,
	)).NoError(t)
	gt.V(t, res.Value).Equal(int64(1))
}

func TestRunAggregates(t *testing.T) {
	env := testEnv(map[string][]map[string]any{"app.Payment": paymentRows(4)}, 100)

	t.Run("sum", func(t *testing.T) {
		res := gt.R1(query.Run(context.Background(), `result = Payment.sum(amount)`, env)).NoError(t)
		gt.V(t, res.Value).Equal(float64(100))
	})

	t.Run("avg", func(t *testing.T) {
		res := gt.R1(query.Run(context.Background(), `result = Payment.avg(amount)`, env)).NoError(t)
		gt.V(t, res.Value).Equal(float64(25))
	})

	t.Run("max", func(t *testing.T) {
		res := gt.R1(query.Run(context.Background(), `result = Payment.max(amount)`, env)).NoError(t)
		gt.V(t, res.Value).Equal(float64(40))
	})
}

func TestRunOrderAndLimit(t *testing.T) {
	env := testEnv(map[string][]map[string]any{"app.Payment": paymentRows(10)}, 100)
	res := gt.R1(query.Run(
		context.Background(),
		`result = Payment.values(id, amount).order_by("-amount").limit(3)`,
		env,
	)).NoError(t)

	rows := gt.Cast[[]any](t, res.Value)
	gt.V(t, len(rows)).Equal(3)
	top := gt.Cast[map[string]any](t, rows[0])
	gt.V(t, top["amount"]).Equal(float64(100))
}

func TestRunTemporalNormalization(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	env := testEnv(map[string][]map[string]any{
		"app.User": {{"id": int64(1), "created_at": created}},
	}, 100)

	res := gt.R1(query.Run(context.Background(), `result = User.values(id, created_at)`, env)).NoError(t)
	rows := gt.Cast[[]any](t, res.Value)
	row := gt.Cast[map[string]any](t, rows[0])
	gt.V(t, row["created_at"]).Equal(created.Format(time.RFC3339))
}

func TestRunPureBuiltins(t *testing.T) {
	env := testEnv(nil, 100)

	cases := []struct {
		code string
		want any
	}{
		{`result = len([1, 2, 3])`, int64(3)},
		{`result = sum([1, 2, 3])`, int64(6)},
		{`result = max([3, 9, 4])`, int64(9)},
		{`result = min([3, 9, 4])`, int64(3)},
		{`result = len(range(5))`, int64(5)},
		{`result = 2 + 3 * 4`, int64(14)},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			res := gt.R1(query.Run(context.Background(), tc.code, env)).NoError(t)
			gt.V(t, res.Value).Equal(tc.want)
		})
	}
}

func TestRunInAndContains(t *testing.T) {
	env := testEnv(map[string][]map[string]any{
		"app.User": {
			{"id": int64(1), "username": "alice"},
			{"id": int64(2), "username": "bob"},
			{"id": int64(3), "username": "malice"},
		},
	}, 100)

	t.Run("in list", func(t *testing.T) {
		res := gt.R1(query.Run(
			context.Background(),
			`result = User.filter(username in ["alice", "bob"]).count()`,
			env,
		)).NoError(t)
		gt.V(t, res.Value).Equal(int64(2))
	})

	t.Run("contains substring", func(t *testing.T) {
		res := gt.R1(query.Run(
			context.Background(),
			`result = User.filter(username contains "alice").count()`,
			env,
		)).NoError(t)
		gt.V(t, res.Value).Equal(int64(2))
	})
}

func TestRunMultiStatement(t *testing.T) {
	env := testEnv(map[string][]map[string]any{"app.Payment": paymentRows(5)}, 100)
	code := "total = Payment.count()\naverage = Payment.avg(amount)\nresult = [total, average]"
	res := gt.R1(query.Run(context.Background(), code, env)).NoError(t)
	rows := gt.Cast[[]any](t, res.Value)
	gt.V(t, len(rows)).Equal(2)
	gt.V(t, rows[0]).Equal(int64(5))
}

func ExampleRun() {
	env := &query.Env{
		Entities: map[string]query.EntityRef{
			"User": {Key: "app.User", Namespace: "app", Name: "User", Fields: []string{"id", "active"}},
		},
		Source: query.NewMemorySource(map[string][]map[string]any{
			"app.User": {{"id": int64(1), "active": true}},
		}),
		MaxRows: 100,
	}
	res, _ := query.Run(context.Background(), "result = User.count()", env)
	fmt.Println(res.Value)
	// Output: 1
}
