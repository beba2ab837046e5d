/*
 * ICS honeypot server - Main process.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	getopt "github.com/pborman/getopt/v2"

	"github.com/icsguard/honeypot/ctrlserver"
	"github.com/icsguard/honeypot/internal/logging"
)

func main() {
	optAddr := getopt.StringLong("addr", 'a', "0.0.0.0:8000", "Listen address")
	optProfiles := getopt.StringLong("profiles", 'p', "profiles", "Profile directory")
	optLogDB := getopt.StringLong("logdb", 'd', "interactions.db", "Interaction log database")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var out io.Writer
	if *optLogFile != "" {
		file, err := os.Create(*optLogFile)
		if err != nil {
			os.Exit(1)
		}
		out = file
	}
	log := logging.New(out, "server", false)

	srv, err := ctrlserver.New(*optProfiles, *optLogDB, log)
	if err != nil {
		log.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:    *optAddr,
		Handler: srv,
	}

	go func() {
		log.Info("server listening", "addr", *optAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for a SIGINT or SIGTERM signal to gracefully shut down the server.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}
