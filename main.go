/*
 * GSCX Cell - Cell Broadband Engine emulator.
 *
 * Copyright 2025, GSCX Authors
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
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"

	reader "github.com/gscx/cell/command/reader"
	config "github.com/gscx/cell/config/configparser"
	core "github.com/gscx/cell/emu/core"
	logger "github.com/gscx/cell/util/logger"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "cell.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	setLogger := func() *slog.Logger {
		l := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, optDebug))
		slog.SetDefault(l)
		return l
	}
	log := setLogger()

	log.Info("GSCX Cell started")

	cfg := config.Defaults()
	if _, err := os.Stat(*optConfig); err == nil {
		cfg, err = config.Load(*optConfig)
		if err != nil {
			log.Error(err.Error())
			os.Exit(0)
		}
	} else {
		log.Warn("Configuration file " + *optConfig + " can't be found, using defaults")
	}

	// A LOGFILE directive only applies when no --log flag named one.
	if file == nil && cfg.LogFile != "" {
		file, _ = os.Create(cfg.LogFile)
		log = setLogger()
	}

	sys := core.New(core.Config{MemSize: cfg.MemSize, NumSPUs: cfg.NumSPUs})
	if err := sys.Start(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	msg := make(chan string, 1)
	go func() {
		reader.ConsoleReader(sys)
		msg <- ""
	}()

	// Wait on shutdown option
	<-msg

	sys.Stop()
	log.Info("System stopped.")
}
