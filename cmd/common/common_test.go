// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common_test

import (
	"testing"
	"time"

	"github.com/blinklabs-io/gofingerprint/cmd/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("FPAPI_TEST_STRING", "  /tmp/p0f.sock ")
	t.Setenv("FPAPI_TEST_INT", "35")
	t.Setenv("FPAPI_TEST_BAD_INT", "many")
	t.Setenv("FPAPI_TEST_DURATION", "90s")
	t.Setenv("FPAPI_TEST_EMPTY", "   ")

	assert.Equal(t, "/tmp/p0f.sock", common.Getenv("FPAPI_TEST_STRING", "x"))
	assert.Equal(t, "x", common.Getenv("FPAPI_TEST_EMPTY", "x"))
	assert.Equal(t, 35, common.IntEnv("FPAPI_TEST_INT", 20))
	assert.Equal(t, 20, common.IntEnv("FPAPI_TEST_BAD_INT", 20))
	assert.Equal(t, 90*time.Second, common.DurationEnv("FPAPI_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, common.DurationEnv("FPAPI_TEST_EMPTY", time.Second))
}

func TestEndpoint(t *testing.T) {
	f := &common.GlobalFlags{Socket: "/tmp/api.sock", Address: "127.0.0.1:1"}
	network, address, err := f.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/tmp/api.sock", address)

	f = &common.GlobalFlags{Address: "127.0.0.1:1"}
	network, _, err = f.Endpoint()
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)

	_, _, err = (&common.GlobalFlags{}).Endpoint()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := common.NewLogger("debug", "json")
	require.NoError(t, err)
	assert.NotNil(t, logger)
	_, err = common.NewLogger("loud", "text")
	assert.Error(t, err)
	_, err = common.NewLogger("info", "xml")
	assert.Error(t, err)
}
