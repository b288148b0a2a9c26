package main

import (
	"testing"

	"github.com/bep/helpers/envhelpers"
	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"bbsync": main,
	})
}

func TestScripts(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testscripts",
		Setup: func(env *testscript.Env) error {
			// Keep git and the tool away from the real user configuration.
			envhelpers.SetEnvVars(&env.Vars, "HOME", env.WorkDir)
			return nil
		},
	})
}
