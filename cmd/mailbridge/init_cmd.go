package main

import (
	"fmt"

	"github.com/emx-mail/bridge/pkgs/config"
)

func handleInit(path string) error {
	if err := config.WriteExample(path); err != nil {
		return err
	}
	fmt.Printf("Created config file at: %s\n", path)
	fmt.Println("Please edit the file to add your server credentials.")
	return nil
}
