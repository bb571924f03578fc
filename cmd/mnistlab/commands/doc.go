// Package commands defines the mnistlab CLI.
//
// Commands
//
//   - fetch      Download and cache the MNIST or Fashion-MNIST dataset
//   - summary    Print the layers and parameter counts for a topology
//   - samples    Write a PNG grid of training images
//   - train      Compile, fit and evaluate a model then classify image files
//   - serve      Web page to draw or upload digits and to run training
//
// The dataset, topology and config settings are shared flags on the root command.
// Settings from a JSON config file given with --config may be overridden with
// --set key=value, where key is a config field name.
package commands
