package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResumeCmd_RejectsArguments(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"resume", "extra-arg"})

	err := cmd.Execute()

	require.Error(t, err)
}

func TestResumeCmd_HasOfflineFlag(t *testing.T) {
	cmd := NewRootCmd()

	resumeCmd, _, err := cmd.Find([]string{"resume"})
	require.NoError(t, err)

	flag := resumeCmd.Flags().Lookup("offline")
	assert.NotNil(t, flag, "should have --offline flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestRunResume_FailsOutsideProject(t *testing.T) {
	t.Chdir(t.TempDir())

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"resume"})

	err := cmd.Execute()

	require.Error(t, err)
}
