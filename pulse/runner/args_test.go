package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/opsdeck/catalog"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		want   []string
	}{
		{"nil", nil, nil},
		{"true is a bare flag", map[string]interface{}{"verbose": true}, []string{"--verbose"}},
		{"falsy values are skipped", map[string]interface{}{
			"off": false, "none": nil, "empty": "", "zero": float64(0), "list": []interface{}{},
		}, nil},
		{"keys are sorted", map[string]interface{}{"b": "2", "a": "1"}, []string{"--a", "1", "--b", "2"}},
		{"whole floats have no decimals", map[string]interface{}{"limit": float64(25)}, []string{"--limit", "25"}},
		{"fractions keep precision", map[string]interface{}{"ratio": 0.25}, []string{"--ratio", "0.25"}},
		{"ints", map[string]interface{}{"n": 3}, []string{"--n", "3"}},
		{"collections are JSON", map[string]interface{}{"tags": []interface{}{"a", "b"}}, []string{"--tags", `["a","b"]`}},
		{"values with spaces stay one argument", map[string]interface{}{"q": "a b"}, []string{"--q", "a b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildArgs(tt.params))
		})
	}
}

func TestBuildCommand(t *testing.T) {
	cmd, err := BuildCommand("python3 -u", "/opt/scripts/report.py", map[string]interface{}{"bucket": "my logs"})
	require.NoError(t, err)

	assert.Equal(t, "python3", cmd.Path)
	assert.Equal(t, []string{"-u", "/opt/scripts/report.py", "--bucket", "my logs"}, cmd.Args)
	assert.Equal(t, `python3 -u /opt/scripts/report.py --bucket 'my logs'`, cmd.String())
}

func TestBuildCommand_InvalidInterpreter(t *testing.T) {
	_, err := BuildCommand("", "/x.py", nil)
	assert.Error(t, err)

	_, err = BuildCommand(`python "unterminated`, "/x.py", nil)
	assert.Error(t, err)
}

func TestBuildEnv(t *testing.T) {
	base := []string{
		"PATH=/usr/bin",
		"AWS_ACCESS_KEY_ID=daemon-key",
		"AWS_PROFILE=daemon",
		"AWS_SESSION_TOKEN=stale",
		"HOME=/root",
	}
	profile := &catalog.Profile{AccessKey: "AKIAX", SecretKey: "s3cr3t", Region: "eu-west-1"}

	env := BuildEnv(base, profile, "")
	assert.ElementsMatch(t, []string{
		"PATH=/usr/bin",
		"HOME=/root",
		"AWS_ACCESS_KEY_ID=AKIAX",
		"AWS_SECRET_ACCESS_KEY=s3cr3t",
		"AWS_DEFAULT_REGION=eu-west-1",
		"AWS_REGION=eu-west-1",
		"PYTHONUNBUFFERED=1",
	}, env)

	env = BuildEnv(base, profile, "ap-south-1")
	assert.Contains(t, env, "AWS_DEFAULT_REGION=ap-south-1")
	assert.Contains(t, env, "AWS_REGION=ap-south-1")
	assert.NotContains(t, env, "AWS_REGION=eu-west-1")
}

func TestMailbox(t *testing.T) {
	mb := newMailbox()
	assert.Empty(t, mb.drain())

	mb.push("a")
	mb.push("b\n")

	select {
	case <-mb.ready:
	default:
		t.Fatal("push must signal ready")
	}
	assert.Equal(t, []string{"a\n", "b\n"}, mb.drain())
	assert.Empty(t, mb.drain())
}

func TestRegistry(t *testing.T) {
	reg := newRegistry()
	reg.addMailbox(3, newMailbox())
	reg.addHandle(3, &handle{pid: 30})
	reg.addHandle(1, &handle{pid: 10})

	assert.Equal(t, []int64{1, 3}, reg.ids())

	h, ok := reg.handle(3)
	require.True(t, ok)
	assert.Equal(t, 30, h.pid)

	reg.removeMailbox(3)
	_, ok = reg.mailbox(3)
	assert.False(t, ok)
	assert.Equal(t, []int64{1, 3}, reg.ids(), "the handle outlives the mailbox")

	reg.addMailbox(3, newMailbox())
	reg.remove(3)
	_, ok = reg.mailbox(3)
	assert.False(t, ok)
	assert.Equal(t, []int64{1}, reg.ids())
}
