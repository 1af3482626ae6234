package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/bringup.go/pkg/boot"
	"github.com/robotalks/bringup.go/pkg/cli/sh"
	fx "github.com/robotalks/bringup.go/pkg/framework"
	"github.com/robotalks/bringup.go/pkg/kernel"
)

var (
	configFile string
	withShell  bool
)

func init() {
	boot.SetupFlags()
	sh.SetupFlags()
	flag.StringVar(&configFile, "config", configFile, "YAML config file, overrides other flags.")
	flag.BoolVar(&withShell, "shell", withShell, "Run the diagnostic shell once the scheduler starts.")
}

func main() {
	flag.Parse()

	conf := boot.NewConfig()
	if configFile != "" {
		if err := conf.LoadFile(configFile); err != nil {
			glog.Exitf("load config: %v", err)
		}
	} else if err := conf.Validate(); err != nil {
		glog.Exit(err)
	}

	ctx, cancel := context.WithCancel(fx.NewRunner().HandleSignals().Context)
	defer cancel()

	node := boot.NewSimNode(conf, boot.NewSim())
	halter := node.Halter
	node.Halter = boot.HaltFunc(func(err *boot.FatalError) {
		if ctx.Err() != nil && errors.Is(err, kernel.ErrSchedulerExited) {
			glog.Info("node stopped")
			glog.Flush()
			os.Exit(0)
		}
		halter.Halt(err)
	})

	if withShell {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-node.Kernel.Started():
			}
			s := sh.New(node)
			if err := s.Run(flag.Args()...); err != nil {
				glog.Error(err)
			}
			cancel()
		}()
	}

	node.Run(ctx)
	// only reached when the halter returns
	select {}
}
