package main

import (
	"fmt"
	"os"

	"github.com/Inokinoki/QFATFileSystem"
	"github.com/spf13/afero"
)

// main is an example CLI to play with QFATFileSystem against a real
// disk image passed as the first argument.
func main() {
	argsWithoutProg := os.Args[1:]
	if len(argsWithoutProg) <= 0 {
		fmt.Println("Please provide a filename.")
		os.Exit(1)
	}

	device, err := os.OpenFile(argsWithoutProg[0], os.O_RDWR, 0)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer device.Close()

	fat, err := gofat.New(device)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	label, _ := fat.Label()
	fmt.Printf("Opened volume %q, type %v\n\n", label, fat.FSType())

	total := fat.TotalSpace()
	free, err := fat.FreeSpace()
	if err != nil {
		fmt.Println("could not compute free space", err)
	} else {
		fmt.Printf("%d bytes total, %d bytes free\n\n", total, free)
	}

	err = afero.Walk(fat, "/", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			fmt.Println(err)
			return err
		}
		fmt.Println(path, info.IsDir(), info.Size(), info.ModTime())
		return nil
	})
	if err != nil {
		fmt.Println("walk failed", err)
	}

	const scratchDir = "/gofat-demo"
	const scratchFile = scratchDir + "/hello.txt"

	if err := fat.MkdirAll(scratchDir, 0); err != nil {
		fmt.Println("could not create demo directory", err)
		os.Exit(1)
	}

	f, err := fat.Create(scratchFile)
	if err != nil {
		fmt.Println("could not create demo file", err)
		os.Exit(1)
	}
	if _, err := f.WriteString("hello from gofat\n"); err != nil {
		fmt.Println("could not write demo file", err)
	}
	if err := f.Close(); err != nil {
		fmt.Println("could not close demo file", err)
	}

	f, err = fat.Open(scratchFile)
	if err != nil {
		fmt.Println("could not reopen demo file", err)
		os.Exit(1)
	}
	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	fmt.Printf("\nread back %d bytes: %s", n, buf[:n])
	f.Close()

	if err := fat.RemoveAll(scratchDir); err != nil {
		fmt.Println("could not clean up demo directory", err)
	}

	if code := fat.LastError(); code != gofat.ErrorNone {
		fmt.Println("last error code:", code)
	}
}
