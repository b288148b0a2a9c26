package main

import "github.com/ramongranda/bitbucket-env-sync/cmd"

func main() {
	cmd.Execute()
}
