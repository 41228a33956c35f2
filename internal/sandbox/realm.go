// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sandbox

import (
	"github.com/dop251/goja"
)

// allowedGlobals survive realm setup. Everything else on the global object
// is deleted before user code runs.
var allowedGlobals = []string{
	"Object", "Array", "String", "Number", "Boolean", "Date", "Math", "JSON",
	"Promise", "Map", "Set", "WeakMap", "WeakSet", "Symbol", "RegExp",
	"Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError", "URIError",
	"parseInt", "parseFloat", "isNaN", "isFinite",
	"encodeURIComponent", "decodeURIComponent", "encodeURI", "decodeURI",
	"NaN", "Infinity", "undefined",
}

// prelude hardens the realm and returns a deep-freeze function for the
// host bindings installed afterwards. Intrinsic helpers are captured before
// the reflective Object methods are removed.
const prelude = `(function (g, allowed) {
  'use strict';
  var O = Object;
  var freeze = O.freeze;
  var isFrozen = O.isFrozen;
  var names = O.getOwnPropertyNames;
  var getProto = O.getPrototypeOf;
  var defineProp = O.defineProperty;

  function blocked() {
    throw new TypeError('code generation is not allowed');
  }

  var fnProtos = [
    getProto(function () {}),
    getProto(async function () {}),
    getProto(function* () {})
  ];
  for (var i = 0; i < fnProtos.length; i++) {
    defineProp(fnProtos[i], 'constructor', {
      value: blocked, writable: false, enumerable: false, configurable: false
    });
  }

  var globals = names(g);
  for (var j = 0; j < globals.length; j++) {
    if (allowed[globals[j]] !== true) {
      try { delete g[globals[j]]; } catch (e) {}
    }
  }

  var reflective = [
    'getPrototypeOf', 'setPrototypeOf', 'getOwnPropertyDescriptor',
    'getOwnPropertyDescriptors', 'defineProperty', 'defineProperties'
  ];
  for (var k = 0; k < reflective.length; k++) {
    delete O[reflective[k]];
  }
  var legacy = ['__defineGetter__', '__defineSetter__', '__lookupGetter__', '__lookupSetter__', '__proto__'];
  for (var m = 0; m < legacy.length; m++) {
    delete O.prototype[legacy[m]];
  }

  function deepFreeze(o) {
    if (o === null || (typeof o !== 'object' && typeof o !== 'function') || isFrozen(o)) {
      return o;
    }
    freeze(o);
    var keys = names(o);
    for (var n = 0; n < keys.length; n++) {
      var v;
      try { v = o[keys[n]]; } catch (e) { continue; }
      deepFreeze(v);
    }
    deepFreeze(getProto(o));
    return o;
  }

  for (var p = 0; p < globals.length; p++) {
    if (allowed[globals[p]] === true) {
      deepFreeze(g[globals[p]]);
    }
  }
  deepFreeze(blocked);

  return deepFreeze;
})`

// harden applies the prelude to vm and returns the deep-freeze function.
func harden(vm *goja.Runtime) (goja.Callable, error) {
	fnValue, err := vm.RunString(prelude)
	if err != nil {
		return nil, err
	}
	setup, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, errPreludeShape
	}

	allowed := vm.NewObject()
	for _, name := range allowedGlobals {
		if err := allowed.Set(name, true); err != nil {
			return nil, err
		}
	}

	freezeValue, err := setup(goja.Undefined(), vm.GlobalObject(), allowed)
	if err != nil {
		return nil, err
	}
	freeze, ok := goja.AssertFunction(freezeValue)
	if !ok {
		return nil, errPreludeShape
	}
	return freeze, nil
}
