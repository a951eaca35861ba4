package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storefront/storefront/internal/app"
	_ "github.com/storefront/storefront/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
