package log

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel(" debug "))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}

func TestSetLevel(t *testing.T) {
	SetLevel(LevelDebug)
	assert.Equal(t, logrus.DebugLevel, Logger().GetLevel())

	SetLevel(LevelError)
	assert.Equal(t, logrus.ErrorLevel, Logger().GetLevel())

	SetLevel(LevelInfo)
	assert.Equal(t, logrus.InfoLevel, Logger().GetLevel())
}

func TestFields(t *testing.T) {
	got := fields("uid", "abc", 42, "ignored", "err", errors.New("boom"), "dangling")

	assert.Equal(t, logrus.Fields{"uid": "abc", "err": "boom"}, got)
}
