// Command tinyrpc serves demo endpoints, calls remote ones, or runs an
// in-process round trip.
//
//	tinyrpc serve [-config file]
//	tinyrpc call  [-config file] [-addr host:port] [-kw json] <method> [json args...]
//	tinyrpc demo
package main

import (
	"fmt"
	"os"
)

const usage = `usage:
  tinyrpc serve [-config file]
  tinyrpc call  [-config file] [-addr host:port] [-kw json] <method> [json args...]
  tinyrpc demo`

func main() {
	if len(os.Args) < 2 {
		fatalf("%s", usage)
	}
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "call":
		err = runCall(os.Args[2:], os.Stdout)
	case "demo":
		err = runDemo(os.Stdout)
	case "-h", "-help", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fatalf("unknown command %q\n%s", os.Args[1], usage)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tinyrpc: "+format+"\n", args...)
	os.Exit(1)
}
