package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaincontext/teeattest/cmd/flags"
	"github.com/chaincontext/teeattest/emulator"
	"github.com/urfave/cli/v2"
)

var cliFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8081",
		Usage: "address to listen on",
	},
	&cli.StringFlag{
		Name:  "instance-id",
		Value: "1234567890123456789",
		Usage: "value served at the instance id path",
	},
	&cli.StringSliceFlag{
		Name:  "disable-path",
		Usage: "token path answering 404, repeatable",
	},
	&cli.StringFlag{
		Name:  "hwmodel",
		Value: emulator.DefaultClaims().HWModel,
		Usage: "hwmodel claim of issued tokens",
	},
	&cli.StringFlag{
		Name:  "swname",
		Value: emulator.DefaultClaims().SWName,
		Usage: "swname claim of issued tokens",
	},
	&cli.StringFlag{
		Name:  "image-digest",
		Value: emulator.DefaultClaims().ImageDigest,
		Usage: "container image digest claim of issued tokens",
	},
	&cli.DurationFlag{
		Name:  "token-ttl",
		Value: time.Hour,
		Usage: "lifetime of issued tokens",
	},
	flags.LogJsonFlag,
	flags.LogDebugFlag,
	flags.LogUidFlag,
	flags.LogServiceFlagFn("metadata-emulator"),
	drainSecondsFlag,
}

var drainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 2,
	Usage: "seconds /readyz reports not ready before shutdown",
}

func main() {
	app := &cli.App{
		Name:  "metadata-emulator",
		Usage: "Serve a local metadata service issuing attestation tokens",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			claims := emulator.DefaultClaims()
			claims.HWModel = cCtx.String("hwmodel")
			claims.SWName = cCtx.String("swname")
			claims.ImageDigest = cCtx.String("image-digest")
			claims.TTL = cCtx.Duration("token-ttl")

			minter, err := emulator.NewMinter(claims)
			if err != nil {
				logger.Error("Failed to create token minter", "err", err)
				return err
			}

			srv := emulator.New(&emulator.ServerConfig{
				ListenAddr:               cCtx.String("listen-addr"),
				Log:                      logger,
				InstanceID:               cCtx.String("instance-id"),
				DisabledPaths:            cCtx.StringSlice("disable-path"),
				DrainDuration:            time.Duration(cCtx.Int64(drainSecondsFlag.Name)) * time.Second,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}, minter)

			srv.RunInBackground()
			logger.Info("Metadata emulator is running", "keyID", minter.KeyID())

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received", "issued", srv.Issued())

			srv.Drain()
			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
