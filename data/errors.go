// Copyright 2021-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import "errors"

var (
	ErrMissingAPIKey       = errors.New("alpha vantage api key is not configured")
	ErrThrottled           = errors.New("request throttled by provider")
	ErrUnexpectedStatus    = errors.New("unexpected HTTP status code")
	ErrNoTimeSeries        = errors.New("response does not contain a daily time series")
	ErrConstituentsMissing = errors.New("constituents table not found")
	ErrColumnMissing       = errors.New("required column missing")
)
