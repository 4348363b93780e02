package main

import (
	"github.com/clinicapp/clinic/clinic"
	_ "go.uber.org/automaxprocs"
)

func main() {
	clinic.RootCmd.Execute()
}
