package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"mdns-reflector/internal/config"
	"mdns-reflector/internal/filter"
	"mdns-reflector/internal/ifsock"
	"mdns-reflector/internal/reflector"
	"mdns-reflector/internal/registry"
)

// stringList collects a repeated flag (--interface, --additional-subnet, ...)
// into an ordered slice.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		interfaces            stringList
		additionalSubnets     stringList
		ignoreQuestionSubnets stringList
		errorInsteadOfExit    bool
		disableIPv4           bool
		disableIPv6           bool
		configPath            string
		verbose               bool
	)

	flag.Var(&interfaces, "interface", "local interface to participate (repeated, >=2 required)")
	flag.Var(&additionalSubnets, "additional-subnet", "accept packets whose source falls in this CIDR even if outside the receiving interface's network (IPv4 only, repeated)")
	flag.Var(&ignoreQuestionSubnets, "ignore-question-subnet", "drop DNS-question-bearing packets whose source falls in this CIDR (repeated)")
	flag.BoolVar(&errorInsteadOfExit, "error-instead-of-exit", false, "on send failure, log and continue instead of terminating")
	flag.BoolVar(&disableIPv4, "disable-ipv4", false, "skip creation of IPv4 endpoints")
	flag.BoolVar(&disableIPv6, "disable-ipv6", false, "skip creation of IPv6 endpoints")
	flag.StringVar(&configPath, "config", "", "optional YAML config file supplying defaults for the above")
	flag.BoolVar(&verbose, "verbose", false, "set verbose in the merged config (log output is the same with or without it)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.Parse()

	logger := log.New(os.Stderr, "mdns-reflector: ", log.LstdFlags)

	cfg := &config.Config{}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			logger.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	// CLI flags always win over the YAML file's defaults.
	if len(interfaces) > 0 {
		cfg.Interfaces = interfaces
	}
	if len(additionalSubnets) > 0 {
		cfg.AdditionalSubnets = additionalSubnets
	}
	if len(ignoreQuestionSubnets) > 0 {
		cfg.IgnoreQuestionSubnets = ignoreQuestionSubnets
	}
	if errorInsteadOfExit {
		cfg.ErrorInsteadOfExit = true
	}
	if disableIPv4 {
		cfg.DisableIPv4 = true
	}
	if disableIPv6 {
		cfg.DisableIPv6 = true
	}
	if verbose {
		cfg.Verbose = true
	}
	if lvl := os.Getenv("MDNS_REFLECTOR_LOG_LEVEL"); lvl == "debug" {
		cfg.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("%v", err)
	}

	additionalNets, err := config.ParseCIDRs(cfg.AdditionalSubnets)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	ignoreNets, err := config.ParseCIDRs(cfg.IgnoreQuestionSubnets)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	logger.Printf("setting up %d interfaces (disable_ipv4=%v disable_ipv6=%v)", len(cfg.Interfaces), cfg.DisableIPv4, cfg.DisableIPv6)

	var endpoints []*ifsock.Endpoint
	for _, name := range cfg.Interfaces {
		if !cfg.DisableIPv4 {
			e, err := ifsock.NewEndpoint(name, ifsock.V4)
			if err != nil {
				logger.Fatalf("establishing ipv4 endpoint %q: %v", name, err)
			}
			logger.Printf("interface %q: ipv4 network %v, own address %v", name, e.Network, e.OwnAddr)
			endpoints = append(endpoints, e)
		}
		if !cfg.DisableIPv6 {
			e, err := ifsock.NewEndpoint(name, ifsock.V6)
			if err != nil {
				logger.Fatalf("establishing ipv6 endpoint %q: %v", name, err)
			}
			logger.Printf("interface %q: ipv6 own address %v", name, e.OwnAddr)
			endpoints = append(endpoints, e)
		}
	}

	reg := registry.Build(endpoints)
	defer reg.Close()

	pol := filter.New(additionalNets, ignoreNets)
	refl := reflector.New(reg, pol, cfg.ErrorInsteadOfExit, logger)

	logger.Printf("starting reflector loop")
	if err := refl.Run(); err != nil {
		logger.Fatalf("%v", err)
	}

	fmt.Fprintln(os.Stderr, "mdns-reflector: exiting")
}
