package main

/*
* CLI to inspect a running bridge server
 */

import (
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/op/go-logging"
	"github.com/urfave/cli"
	"github.com/youtube/vitess/go/ioutil2"

	"objbridge.dev/ob/bridge"
	oblog "objbridge.dev/ob/common/log"
	"objbridge.dev/ob/common/util"
	"objbridge.dev/ob/common/version"
)

var log *logging.Logger = oblog.SetupLogging("obctl", logging.WARNING, false)

func PrintFatal(msg string, args ...interface{}) {
	os.Stderr.WriteString(util.Red(fmt.Sprintf(msg, args...)) + "\n")
	os.Exit(1)
}

func config(c *cli.Context) (cfg bridge.Config) {
	cfg, err := bridge.ConfigFromEnv()
	if err != nil {
		PrintFatal(err.Error())
	}
	cfg.Log = log
	if c.GlobalIsSet("host") {
		cfg.Endpoint.Host = c.GlobalString("host")
	}
	if c.GlobalIsSet("port") {
		cfg.Endpoint.Port = c.GlobalInt("port")
	}
	if c.GlobalIsSet("network") {
		cfg.Endpoint.Network = c.GlobalString("network")
	}
	if c.GlobalBool("debug") {
		cfg.Debug = true
	}
	return
}

func connect(c *cli.Context) *bridge.Bridge {
	b, err := bridge.New(config(c))
	if err != nil {
		PrintFatal(err.Error())
	}
	return b
}

func pingCommand(c *cli.Context) (err error) {
	b := connect(c)
	defer b.Close()
	serverVersion := b.ServerVersion()
	if version.Compatible(serverVersion) {
		serverVersion = util.Green(serverVersion)
	} else {
		serverVersion = util.Yellow(serverVersion + " (client expects " + version.EXPECTED_PROTOCOL_VERSION.String() + ")")
	}
	fmt.Println("bridge", util.Cyan(b.Config().Endpoint.String()), "protocol", serverVersion)
	fmt.Println(len(b.API()), "constructors announced")
	return
}

func describeCommand(c *cli.Context) (err error) {
	classpath := c.Args().First()
	if classpath == "" {
		PrintFatal("usage: obctl describe <classpath>")
	}
	b := connect(c)
	defer b.Close()
	constructors, err := b.Constructors(classpath)
	if err != nil {
		PrintFatal(err.Error())
	}
	if len(constructors) == 0 {
		PrintFatal("%s has no public constructors", classpath)
	}
	var lines []string
	for _, constructor := range constructors {
		lines = append(lines, constructor.Signature())
	}
	description := strings.Join(lines, "\n") + "\n"
	fmt.Print(description)

	if out := c.String("out"); out != "" {
		if err = ioutil2.WriteFileAtomic(out, []byte(description), 0644); err != nil {
			PrintFatal(err.Error())
		}
	}
	if c.Bool("copy") {
		if err = clipboard.WriteAll(description); err != nil {
			PrintFatal(err.Error())
		}
		fmt.Println(util.Green("Copied to clipboard."))
	}
	return
}

func newCommand(c *cli.Context) (err error) {
	classpath := c.Args().First()
	if classpath == "" {
		PrintFatal("usage: obctl new <classpath>")
	}
	b := connect(c)
	defer b.Close()
	o, err := b.ConstructRemoteObject(classpath, c.Bool("new-socket"))
	if err != nil {
		PrintFatal(err.Error())
	}
	defer o.Release()

	fmt.Println(util.Cyan(o.String()))
	if len(o.Interfaces()) > 0 {
		fmt.Println("implements", strings.Join(o.Interfaces(), ", "))
	}
	for _, field := range o.Fields() {
		fmt.Println("  field ", field)
	}
	for _, name := range o.Methods() {
		for _, overload := range o.ProxyClass().Overloads(name) {
			fmt.Println("  method", name, overload.Signature())
		}
	}
	return
}

func main() {
	app := cli.NewApp()
	app.Name = "obctl"
	app.Usage = "inspect classes and objects behind a running bridge server"
	app.Version = version.EXPECTED_PROTOCOL_VERSION.String()
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "host", Usage: "bridge server host"},
		cli.IntFlag{Name: "port", Usage: "bridge server port"},
		cli.StringFlag{Name: "network", Usage: "tcp or unix"},
		cli.BoolFlag{Name: "debug", Usage: "log every message header"},
	}
	app.Before = func(c *cli.Context) (err error) {
		if c.GlobalBool("debug") {
			log = oblog.SetupLogging("obctl", logging.NOTICE, false)
		}
		return
	}
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "ping",
			Usage:  "connect and report the server protocol version",
			Action: pingCommand,
		},
		cli.Command{
			Name:      "describe",
			Usage:     "list the constructors of a class",
			ArgsUsage: "<classpath>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "out", Usage: "also write the description to this file"},
				cli.BoolFlag{Name: "copy", Usage: "also copy the description to the clipboard"},
			},
			Action: describeCommand,
		},
		cli.Command{
			Name:      "new",
			Usage:     "construct an object, print its fields and methods, release it",
			ArgsUsage: "<classpath>",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "new-socket", Usage: "serve the object on a dedicated channel"},
			},
			Action: newCommand,
		},
	}
	app.Run(os.Args)
}
