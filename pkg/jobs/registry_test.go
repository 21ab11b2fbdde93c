package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
	"github.com/nemanja-m/mrfs/pkg/core"
)

func identityJob() Job {
	return Job{
		Map: func(key, value string) []core.KeyValue {
			return []core.KeyValue{{Key: key, Value: value}}
		},
		Reduce: func(key string, values []string) []core.KeyValue {
			return []core.KeyValue{{Key: key, Value: values[0]}}
		},
	}
}

func TestRegister(t *testing.T) {
	require.NoError(t, Register("registry-test-identity", identityJob()))

	job, err := Get("registry-test-identity")
	require.NoError(t, err)
	require.NotNil(t, job.Map)
	require.Nil(t, job.Combiner)
	require.Contains(t, List(), "registry-test-identity")

	err = Register("registry-test-identity", identityJob())
	require.True(t, errs.Is(err, errs.AlreadyExists))
}

func TestRegister_Invalid(t *testing.T) {
	err := Register("", identityJob())
	require.True(t, errs.Is(err, errs.InvalidArgument))

	err = Register("registry-test-no-reduce", Job{Map: identityJob().Map})
	require.True(t, errs.Is(err, errs.InvalidArgument))
}

func TestGet_NotFound(t *testing.T) {
	_, err := Get("registry-test-missing")
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestMustRegister_PanicsOnDuplicate(t *testing.T) {
	MustRegister("registry-test-must", identityJob())
	require.Panics(t, func() {
		MustRegister("registry-test-must", identityJob())
	})
}

func TestList_Sorted(t *testing.T) {
	MustRegister("registry-test-zz", identityJob())
	MustRegister("registry-test-aa", identityJob())

	names := List()
	require.IsNonDecreasing(t, names)
}
