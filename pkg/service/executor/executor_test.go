package executor_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/qqmikey/datachat/pkg/model"
	"github.com/qqmikey/datachat/pkg/query"
	"github.com/qqmikey/datachat/pkg/service/executor"
)

func paymentTable(n int) map[string][]map[string]any {
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{"id": int64(i + 1), "amount": float64(i)})
	}
	return map[string][]map[string]any{"shop.Payment": rows}
}

func paymentManifest() model.Manifest {
	return model.Manifest{"shop.Payment": {"id", "amount"}}
}

func TestExecuteTruncation(t *testing.T) {
	t.Run("result above ceiling is clipped and flagged", func(t *testing.T) {
		exec := executor.New(query.NewMemorySource(paymentTable(150)))
		res := gt.R1(exec.Execute(context.Background(),
			"result = Payment.values(id, amount)", paymentManifest())).NoError(t)
		gt.V(t, res.Rows).Equal(100)
		gt.True(t, res.Truncated)
	})

	t.Run("result below ceiling passes through", func(t *testing.T) {
		exec := executor.New(query.NewMemorySource(paymentTable(50)))
		res := gt.R1(exec.Execute(context.Background(),
			"result = Payment.values(id, amount)", paymentManifest())).NoError(t)
		gt.V(t, res.Rows).Equal(50)
		gt.False(t, res.Truncated)
	})

	t.Run("custom ceiling", func(t *testing.T) {
		exec := executor.New(query.NewMemorySource(paymentTable(30)), executor.WithMaxRows(10))
		res := gt.R1(exec.Execute(context.Background(),
			"result = Payment.values(id)", paymentManifest())).NoError(t)
		gt.V(t, res.Rows).Equal(10)
		gt.True(t, res.Truncated)
	})
}

func TestExecuteExposesBareNames(t *testing.T) {
	exec := executor.New(query.NewMemorySource(paymentTable(3)))
	res := gt.R1(exec.Execute(context.Background(),
		"result = Payment.count()", paymentManifest())).NoError(t)
	gt.V(t, res.Value).Equal(int64(3))
}

func TestExecuteRejectsUnsafeCode(t *testing.T) {
	exec := executor.New(query.NewMemorySource(nil))

	cases := []string{
		"import os\nresult = 1",
		`result = open("/etc/passwd")`,
		`result = Unknown.count()`,
	}
	for _, code := range cases {
		_, err := exec.Execute(context.Background(), code, paymentManifest())
		gt.Error(t, err)
	}
}

func TestExecuteNamespacedReferenceFails(t *testing.T) {
	exec := executor.New(query.NewMemorySource(paymentTable(1)))
	_, err := exec.Execute(context.Background(),
		"result = shop.Payment.count()", paymentManifest())
	gt.Error(t, err)
	gt.S(t, err.Error()).Contains("is not defined")
}

func TestExecuteBareNameCollision(t *testing.T) {
	// Two namespaces declare Payment; the alphabetically later key wins.
	manifest := model.Manifest{
		"billing.Payment": {"id"},
		"shop.Payment":    {"id", "amount"},
	}
	exec := executor.New(query.NewMemorySource(map[string][]map[string]any{
		"shop.Payment":    {{"id": int64(1), "amount": 5.0}},
		"billing.Payment": {{"id": int64(1)}, {"id": int64(2)}},
	}))

	res := gt.R1(exec.Execute(context.Background(), "result = Payment.count()", manifest)).NoError(t)
	gt.V(t, res.Value).Equal(int64(1))
}
